// Package poscart holds the point-of-sale client state: the in-memory cart
// and the checkout flow that drives a payment dialog from submission to a
// terminal status. Nothing here is persisted; the cart is the order before
// it is committed.
package poscart

import (
	"github.com/shoplight/pos-backend/internal/models"
	"github.com/shoplight/pos-backend/internal/store"
)

// LineItem is an inventory item snapshot plus a transient quantity.
type LineItem struct {
	Item     models.InventoryItem
	Quantity int
}

func (l LineItem) SubtotalCents() int64 {
	return l.Item.PriceCents * int64(l.Quantity)
}

// Cart is an ordered set of line items keyed by item id. Quantities stay at
// 1 or above; decrementing past that removes the line. Not safe for
// concurrent use.
type Cart struct {
	lines []LineItem
}

// Add appends the item or bumps its quantity when already present.
func (c *Cart) Add(item models.InventoryItem) {
	for i := range c.lines {
		if c.lines[i].Item.ID == item.ID {
			c.lines[i].Quantity++
			return
		}
	}
	c.lines = append(c.lines, LineItem{Item: item, Quantity: 1})
}

func (c *Cart) Increase(itemID int64) {
	for i := range c.lines {
		if c.lines[i].Item.ID == itemID {
			c.lines[i].Quantity++
			return
		}
	}
}

// Decrease lowers the quantity by one, removing the line when it hits zero.
func (c *Cart) Decrease(itemID int64) {
	for i := range c.lines {
		if c.lines[i].Item.ID == itemID {
			c.lines[i].Quantity--
			if c.lines[i].Quantity < 1 {
				c.lines = append(c.lines[:i], c.lines[i+1:]...)
			}
			return
		}
	}
}

func (c *Cart) Remove(itemID int64) {
	for i := range c.lines {
		if c.lines[i].Item.ID == itemID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) Lines() []LineItem {
	out := make([]LineItem, len(c.lines))
	copy(out, c.lines)
	return out
}

// TotalCents is the client-side running total. It is display-only: the
// server recomputes the authoritative total from current item prices.
func (c *Cart) TotalCents() int64 {
	var total int64
	for _, line := range c.lines {
		total += line.SubtotalCents()
	}
	return total
}

// Requests converts the cart into the order line requests the backend
// accepts.
func (c *Cart) Requests() []store.OrderLineRequest {
	out := make([]store.OrderLineRequest, 0, len(c.lines))
	for _, line := range c.lines {
		out = append(out, store.OrderLineRequest{ItemID: line.Item.ID, Quantity: line.Quantity})
	}
	return out
}
