package main

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"crmflow/internal/broker"
	"crmflow/internal/config"
	"crmflow/internal/logger"
	"crmflow/internal/publisher"
	"crmflow/pkg/models"
)

type seedOptions struct {
	Customers   int
	Orders      int
	OrdersFirst bool
	Seed        int64
}

var (
	firstNames = []string{"Aarav", "Ada", "Bo", "Chen", "Dana", "Emeka", "Farah", "Ines", "Jonas", "Kiri", "Lena", "Mateo"}
	lastNames  = []string{"Silva", "Okafor", "Novak", "Sato", "Haddad", "Moreau", "Kowalski", "Rossi", "Nguyen", "Berg"}
	tagPool    = []string{"vip", "newsletter", "mobile", "wholesale", "returning"}
	products   = []models.OrderItem{
		{ProductID: "P-100", Name: "Espresso beans", Price: 14.5},
		{ProductID: "P-200", Name: "Pour-over kettle", Price: 49},
		{ProductID: "P-300", Name: "Ceramic mug", Price: 12},
		{ProductID: "P-400", Name: "Hand grinder", Price: 89.99},
	}
)

// generateSeed builds n customers and m orders spread across them. Orders
// only reference generated customers.
func generateSeed(rng *rand.Rand, n, m int, now time.Time) ([]models.Customer, []models.Order) {
	customers := make([]models.Customer, n)
	for i := range customers {
		first := firstNames[rng.Intn(len(firstNames))]
		last := lastNames[rng.Intn(len(lastNames))]
		var tags []string
		for _, tag := range tagPool {
			if rng.Float64() < 0.25 {
				tags = append(tags, tag)
			}
		}
		customers[i] = models.Customer{
			ID:     uuid.NewString(),
			Name:   first + " " + last,
			Email:  strings.ToLower(fmt.Sprintf("%s.%s.%d@example.com", first, last, i)),
			Visits: rng.Intn(30),
			Tags:   tags,
		}
	}

	if n == 0 {
		return customers, nil
	}

	orders := make([]models.Order, m)
	for i := range orders {
		c := customers[rng.Intn(n)]
		items := make([]models.OrderItem, 1+rng.Intn(3))
		amount := 0.0
		for j := range items {
			item := products[rng.Intn(len(products))]
			item.Quantity = 1 + rng.Intn(3)
			amount += item.Price * float64(item.Quantity)
			items[j] = item
		}
		orders[i] = models.Order{
			ID:           uuid.NewString(),
			CustomerID:   c.ID,
			CustomerName: c.Name,
			OrderDate:    now.Add(-time.Duration(rng.Intn(180*24)) * time.Hour),
			Amount:       amount,
			Items:        items,
			Status:       "completed",
		}
	}
	return customers, orders
}

func runSeed(ctx context.Context, cfg *config.Config, log logger.Logger, opts seedOptions) error {
	transport, err := broker.NewTransport(cfg, nil)
	if err != nil {
		return err
	}
	defer transport.Close()

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	customers, orders := generateSeed(rand.New(rand.NewSource(seed)), opts.Customers, opts.Orders, time.Now())

	return publishSeed(ctx, publisher.New(transport, log), customers, orders, opts.OrdersFirst, log)
}

func publishSeed(ctx context.Context, pub *publisher.Publisher, customers []models.Customer, orders []models.Order, ordersFirst bool, log logger.Logger) error {
	publishCustomers := func() error {
		for _, c := range customers {
			if _, err := pub.PublishCustomer(ctx, models.OperationCreate, c); err != nil {
				return fmt.Errorf("failed to publish customer %s: %w", c.ID, err)
			}
		}
		return nil
	}
	publishOrders := func() error {
		for _, o := range orders {
			if _, err := pub.PublishOrder(ctx, models.OperationCreate, o); err != nil {
				return fmt.Errorf("failed to publish order %s: %w", o.ID, err)
			}
		}
		return nil
	}

	steps := []func() error{publishCustomers, publishOrders}
	if ordersFirst {
		steps[0], steps[1] = publishOrders, publishCustomers
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	log.InfowCtx(ctx, "Seed events published",
		"customers", len(customers),
		"orders", len(orders),
		"orders_first", ordersFirst,
	)
	return nil
}
