package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/alsoamit/manager-dash-sub001/internal/entity"
)

// Publisher is what the generator mutates. Server implements it.
type Publisher interface {
	Upsert(coll entity.Collection, r entity.Record) error
	Remove(coll entity.Collection, id string) error
	Replace(coll entity.Collection, recs []entity.Record) error
}

type mockProduct struct {
	ID    string  `json:"_id"`
	Name  string  `json:"name"`
	SKU   string  `json:"sku"`
	Price float64 `json:"price"`
}

type mockSalon struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	City  string `json:"city"`
	Phone string `json:"phone"`
}

type mockEmployee struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

type mockTarget struct {
	ID         string  `json:"_id"`
	EmployeeID string  `json:"employeeId"`
	Date       string  `json:"date"`
	Goal       float64 `json:"goal"`
	Achieved   float64 `json:"achieved"`
}

type mockBeat struct {
	ID         string `json:"_id"`
	EmployeeID string `json:"employeeId"`
	SalonID    string `json:"salonId"`
	Date       string `json:"date"`
	Status     string `json:"status"`
}

type mockOrder struct {
	ID         string    `json:"_id"`
	EmployeeID string    `json:"employeeId"`
	SalonID    string    `json:"salonId"`
	ProductID  string    `json:"productId"`
	Quantity   int       `json:"quantity"`
	Total      float64   `json:"total"`
	Date       string    `json:"date"`
	CreatedAt  time.Time `json:"createdAt"`
}

const dateLayout = "2006-01-02"

var beatStatuses = []string{"planned", "checked_in", "visited"}

// Generator seeds every collection and then keeps changing them the way a
// sales team in the field would: orders come in, targets fill up, beats
// get visited and the odd order is cancelled.
type Generator struct {
	pub      Publisher
	interval time.Duration
	rng      *rand.Rand
	now      func() time.Time

	products  []mockProduct
	salons    []mockSalon
	employees []mockEmployee
	targets   []*mockTarget
	beats     []*mockBeat
	orders    []mockOrder
}

func NewGenerator(pub Publisher, interval time.Duration, seed int64) *Generator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Generator{
		pub:      pub,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		now:      time.Now,
	}
}

// Seed publishes the initial data set. Start calls it.
func (g *Generator) Seed() {
	today := g.now().Format(dateLayout)

	g.products = []mockProduct{
		{ID: "prd-keratin", Name: "Keratin Smoothing Kit", SKU: "KR-200", Price: 1450},
		{ID: "prd-argan", Name: "Argan Oil Serum", SKU: "AR-050", Price: 620},
		{ID: "prd-color", Name: "Ammonia-free Color 4.0", SKU: "CL-400", Price: 380},
		{ID: "prd-bond", Name: "Bond Repair Mask", SKU: "BR-250", Price: 890},
		{ID: "prd-shampoo", Name: "Sulphate-free Shampoo 1L", SKU: "SH-1000", Price: 540},
	}
	g.salons = []mockSalon{
		{ID: "sln-glow", Name: "Glow Studio", City: "Pune", Phone: "+91 20 5550 1100"},
		{ID: "sln-mane", Name: "Mane Street", City: "Mumbai", Phone: "+91 22 5550 2200"},
		{ID: "sln-bliss", Name: "Bliss Unisex Salon", City: "Nashik", Phone: "+91 253 555 3300"},
		{ID: "sln-urban", Name: "Urban Cuts", City: "Pune", Phone: "+91 20 5550 4400"},
	}
	g.employees = []mockEmployee{
		{ID: "emp-ravi", Name: "Ravi Kulkarni", Role: "field_executive", Status: "active"},
		{ID: "emp-neha", Name: "Neha Shah", Role: "field_executive", Status: "active"},
		{ID: "emp-imran", Name: "Imran Sheikh", Role: "area_manager", Status: "active"},
	}
	g.targets = nil
	g.beats = nil
	for i, e := range g.employees {
		g.targets = append(g.targets, &mockTarget{
			ID: "tgt-" + e.ID + "-" + today, EmployeeID: e.ID, Date: today,
			Goal: float64(15000 + 5000*i),
		})
		for j := 0; j < 2; j++ {
			salon := g.salons[(i+j)%len(g.salons)]
			g.beats = append(g.beats, &mockBeat{
				ID: fmt.Sprintf("beat-%s-%d-%s", e.ID, j, today), EmployeeID: e.ID,
				SalonID: salon.ID, Date: today, Status: beatStatuses[0],
			})
		}
	}
	g.orders = nil

	g.replace(entity.Products, g.products)
	g.replace(entity.Salons, g.salons)
	g.replace(entity.Employees, g.employees)
	g.replace(entity.Targets, g.targets)
	g.replace(entity.Beats, g.beats)
	g.replace(entity.Orders, g.orders)
}

// Start seeds and then advances the data set every interval until ctx ends.
func (g *Generator) Start(ctx context.Context) {
	g.Seed()
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Tick applies one random change.
func (g *Generator) Tick() {
	switch n := g.rng.Intn(10); {
	case n < 5:
		g.placeOrder()
	case n < 8:
		g.advanceBeat()
	default:
		g.cancelOrder()
	}
}

func (g *Generator) placeOrder() {
	emp := g.employees[g.rng.Intn(len(g.employees))]
	salon := g.salons[g.rng.Intn(len(g.salons))]
	prod := g.products[g.rng.Intn(len(g.products))]
	qty := 1 + g.rng.Intn(6)
	now := g.now()

	o := mockOrder{
		ID:         "ord-" + uuid.NewString()[:8],
		EmployeeID: emp.ID,
		SalonID:    salon.ID,
		ProductID:  prod.ID,
		Quantity:   qty,
		Total:      prod.Price * float64(qty),
		Date:       now.Format(dateLayout),
		CreatedAt:  now,
	}
	g.orders = append(g.orders, o)
	g.upsert(entity.Orders, o.ID, o)

	for _, t := range g.targets {
		if t.EmployeeID == emp.ID {
			t.Achieved += o.Total
			g.upsert(entity.Targets, t.ID, t)
			break
		}
	}
}

func (g *Generator) advanceBeat() {
	for _, b := range g.beats {
		for i, s := range beatStatuses[:len(beatStatuses)-1] {
			if b.Status == s {
				b.Status = beatStatuses[i+1]
				g.upsert(entity.Beats, b.ID, b)
				return
			}
		}
	}
	g.placeOrder()
}

func (g *Generator) cancelOrder() {
	if len(g.orders) == 0 {
		g.placeOrder()
		return
	}
	i := g.rng.Intn(len(g.orders))
	o := g.orders[i]
	g.orders = append(g.orders[:i], g.orders[i+1:]...)
	if err := g.pub.Remove(entity.Orders, o.ID); err != nil {
		log.Printf("mock: remove %s: %v", o.ID, err)
	}
	for _, t := range g.targets {
		if t.EmployeeID == o.EmployeeID {
			t.Achieved -= o.Total
			g.upsert(entity.Targets, t.ID, t)
			break
		}
	}
}

func (g *Generator) upsert(coll entity.Collection, id string, v any) {
	rec, err := toRecord(id, v)
	if err == nil {
		err = g.pub.Upsert(coll, rec)
	}
	if err != nil {
		log.Printf("mock: upsert %s/%s: %v", coll, id, err)
	}
}

func (g *Generator) replace(coll entity.Collection, items any) {
	data, err := json.Marshal(items)
	if err == nil {
		var recs []entity.Record
		if recs, err = entity.DecodeRecords(data); err == nil {
			err = g.pub.Replace(coll, recs)
		}
	}
	if err != nil {
		log.Printf("mock: seed %s: %v", coll, err)
	}
}

func toRecord(id string, v any) (entity.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return entity.Record{}, err
	}
	return entity.Record{ID: id, Data: data}, nil
}
