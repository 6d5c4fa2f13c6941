package vuser

import (
	"maps"
	"slices"

	"tracewright/internal/template"
)

// Cart maps product id to quantity. It is owned by one user.
// Quantities are always positive; a product at zero is removed.
type Cart struct {
	qty   map[string]int
	items map[string]template.Item
}

func NewCart() *Cart {
	return &Cart{
		qty:   make(map[string]int),
		items: make(map[string]template.Item),
	}
}

// Add increases the quantity of item by n and returns the quantity before
// and after.
func (c *Cart) Add(item template.Item, n int) (before, after int) {
	if n <= 0 {
		return c.qty[item.ID], c.qty[item.ID]
	}
	before = c.qty[item.ID]
	c.qty[item.ID] = before + n
	c.items[item.ID] = item
	return before, before + n
}

// Remove takes one unit of id out of the cart. Removing something that is
// not in the cart is a no-op and reports ok false.
func (c *Cart) Remove(id string) (before, after int, ok bool) {
	before, ok = c.qty[id]
	if !ok {
		return 0, 0, false
	}
	after = before - 1
	if after <= 0 {
		delete(c.qty, id)
		delete(c.items, id)
		return before, 0, true
	}
	c.qty[id] = after
	return before, after, true
}

func (c *Cart) Quantity(id string) int {
	return c.qty[id]
}

func (c *Cart) Empty() bool {
	return len(c.qty) == 0
}

// Count is the total number of units.
func (c *Cart) Count() int {
	n := 0
	for _, q := range c.qty {
		n += q
	}
	return n
}

func (c *Cart) Total() float64 {
	total := 0.0
	for id, q := range c.qty {
		total += c.items[id].Price * float64(q)
	}
	return total
}

// IDs returns product ids in sorted order.
func (c *Cart) IDs() []string {
	return slices.Sorted(maps.Keys(c.qty))
}

// Snapshot copies the quantities.
func (c *Cart) Snapshot() map[string]int {
	return maps.Clone(c.qty)
}

func (c *Cart) Clear() {
	clear(c.qty)
	clear(c.items)
}

// OrderLine is one line of a create-order request.
type OrderLine struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Lines returns the cart as order lines in product id order.
func (c *Cart) Lines() []OrderLine {
	lines := make([]OrderLine, 0, len(c.qty))
	for _, id := range c.IDs() {
		it := c.items[id]
		lines = append(lines, OrderLine{ProductID: id, Name: it.Name, Quantity: c.qty[id], Price: it.Price})
	}
	return lines
}
