// Package cart хранит строки корзины и вычисляет итоги оформления заказа.
// Пакет не выполняет ввода-вывода: сохранение выполняет вызывающий код.
package cart

import (
	"errors"
	"fmt"
)

var (
	// ErrLineNotFound возвращается для неизвестного идентификатора строки.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrNoItemsSelected возвращается при оформлении без выбранных строк.
	ErrNoItemsSelected = errors.New("no items selected")
)

// ValidationError описывает отклонённое изменение строки.
type ValidationError struct {
	LineID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s for line %s: %s", e.Field, e.LineID, e.Reason)
}

// Line одна позиция корзины. Цена в минимальных единицах валюты.
type Line struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	StoreName string `json:"store_name"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	// Stock снимок остатка на момент загрузки.
	Stock    int    `json:"stock"`
	Selected bool   `json:"selected"`
	Version  uint64 `json:"version"`
}

// Subtotal возвращает стоимость строки без учёта выбора.
func (l Line) Subtotal() int64 {
	return l.Price * int64(l.Quantity)
}

// Available сообщает, есть ли товар в наличии. Строка без остатка не может быть выбрана.
func (l Line) Available() bool {
	return l.Stock > 0
}

func (l Line) counted() bool {
	return l.Selected && l.Available()
}

// Adjustments поправки к итогу, которые приходят извне.
type Adjustments struct {
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
}

// Totals итоги по выбранным строкам.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

// Group строки одного продавца.
type Group struct {
	StoreName string `json:"store_name"`
	Lines     []Line `json:"lines"`
	Subtotal  int64  `json:"subtotal"`
}

// Snapshot сериализуемое состояние корзины.
type Snapshot struct {
	Lines       []Line      `json:"lines"`
	Adjustments Adjustments `json:"adjustments"`
	// Generation меняется при каждой загрузке корзины из API.
	Generation string `json:"generation,omitempty"`
}

// Cart набор строк корзины одной сессии.
type Cart struct {
	lines       []Line
	index       map[string]int
	adjustments Adjustments
	generation  string
}

// New создаёт корзину из строк. Количество приводится к границам [1, stock], дубликаты отбрасываются.
// Строки без остатка снимаются с выбора.
func New(lines []Line) *Cart {
	c := &Cart{
		lines: make([]Line, 0, len(lines)),
		index: make(map[string]int, len(lines)),
	}
	for _, l := range lines {
		if _, dup := c.index[l.ID]; dup {
			continue
		}
		if l.Quantity < 1 {
			l.Quantity = 1
		}
		if !l.Available() {
			l.Quantity = 1
			l.Selected = false
		} else if l.Quantity > l.Stock {
			l.Quantity = l.Stock
		}
		c.index[l.ID] = len(c.lines)
		c.lines = append(c.lines, l)
	}
	return c
}

// FromSnapshot восстанавливает корзину из снимка.
func FromSnapshot(s Snapshot) *Cart {
	c := New(s.Lines)
	c.adjustments = s.Adjustments
	c.generation = s.Generation
	return c
}

// Snapshot возвращает копию состояния корзины.
func (c *Cart) Snapshot() Snapshot {
	return Snapshot{
		Lines:       c.Lines(),
		Adjustments: c.adjustments,
		Generation:  c.generation,
	}
}

// Generation возвращает метку загрузки корзины из API.
func (c *Cart) Generation() string {
	return c.generation
}

// SetGeneration задаёт метку загрузки.
func (c *Cart) SetGeneration(g string) {
	c.generation = g
}

// Lines возвращает копию строк в порядке добавления.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Line возвращает строку по идентификатору.
func (c *Cart) Line(id string) (Line, bool) {
	i, ok := c.index[id]
	if !ok {
		return Line{}, false
	}
	return c.lines[i], true
}

// Len возвращает число строк.
func (c *Cart) Len() int {
	return len(c.lines)
}

// SetAdjustments задаёт доставку и скидку.
func (c *Cart) SetAdjustments(a Adjustments) {
	c.adjustments = a
}

// SetSelection включает или исключает строку из итогов.
func (c *Cart) SetSelection(id string, selected bool) error {
	i, ok := c.index[id]
	if !ok {
		return ErrLineNotFound
	}
	if selected && !c.lines[i].Available() {
		return &ValidationError{LineID: id, Field: "selected", Reason: "out of stock"}
	}
	c.lines[i].Selected = selected
	c.lines[i].Version++
	return nil
}

// SetSelectAll задаёт выбор для всех строк. Строки без остатка не меняются.
func (c *Cart) SetSelectAll(selected bool) {
	for i := range c.lines {
		if !c.lines[i].Available() {
			continue
		}
		c.lines[i].Selected = selected
		c.lines[i].Version++
	}
}

// SetQuantity меняет количество. Значения вне [1, stock] отклоняются, строка не меняется.
func (c *Cart) SetQuantity(id string, quantity int) error {
	i, ok := c.index[id]
	if !ok {
		return ErrLineNotFound
	}

	line := &c.lines[i]
	if quantity < 1 {
		return &ValidationError{LineID: id, Field: "quantity", Reason: "must be at least 1"}
	}
	if quantity > line.Stock {
		return &ValidationError{LineID: id, Field: "quantity", Reason: fmt.Sprintf("only %d in stock", line.Stock)}
	}

	line.Quantity = quantity
	line.Version++
	return nil
}

// RemoveLine удаляет строку.
func (c *Cart) RemoveLine(id string) error {
	i, ok := c.index[id]
	if !ok {
		return ErrLineNotFound
	}

	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	c.reindex()
	return nil
}

// RestoreLine возвращает строке прежнее состояние, если после prev её меняли ровно один раз.
// Отсутствующая строка не восстанавливается. Возвращает false для устаревшего отката.
func (c *Cart) RestoreLine(prev Line) bool {
	i, ok := c.index[prev.ID]
	if !ok {
		return false
	}

	switch c.lines[i].Version {
	case prev.Version:
		return true
	case prev.Version + 1:
	default:
		return false
	}

	restored := prev
	restored.Version = c.lines[i].Version + 1
	c.lines[i] = restored
	return true
}

// ReinsertLine возвращает удалённую строку на прежнюю позицию.
// Возвращает false, если строка с таким идентификатором уже есть.
func (c *Cart) ReinsertLine(prev Line, position int) bool {
	if _, ok := c.index[prev.ID]; ok {
		return false
	}
	if position < 0 || position > len(c.lines) {
		position = len(c.lines)
	}

	c.lines = append(c.lines, Line{})
	copy(c.lines[position+1:], c.lines[position:])
	c.lines[position] = prev
	c.reindex()
	return true
}

// Position возвращает индекс строки или -1.
func (c *Cart) Position(id string) int {
	i, ok := c.index[id]
	if !ok {
		return -1
	}
	return i
}

// SelectedLines возвращает выбранные строки, которые есть в наличии.
func (c *Cart) SelectedLines() []Line {
	var out []Line
	for _, l := range c.lines {
		if l.counted() {
			out = append(out, l)
		}
	}
	return out
}

// ComputeTotals чистая функция от текущих строк и поправок.
func (c *Cart) ComputeTotals() Totals {
	var subtotal int64
	selected := 0
	for _, l := range c.lines {
		if !l.counted() {
			continue
		}
		subtotal += l.Subtotal()
		selected++
	}

	if selected == 0 {
		return Totals{}
	}

	total := subtotal + c.adjustments.Shipping - c.adjustments.Discount
	if total < 0 {
		total = 0
	}

	return Totals{
		Subtotal: subtotal,
		Shipping: c.adjustments.Shipping,
		Discount: c.adjustments.Discount,
		Total:    total,
	}
}

// Groups группирует строки по продавцу в порядке первого появления.
// Subtotal группы учитывает только выбранные строки.
func (c *Cart) Groups() []Group {
	var groups []Group
	pos := make(map[string]int)

	for _, l := range c.lines {
		i, ok := pos[l.StoreName]
		if !ok {
			i = len(groups)
			pos[l.StoreName] = i
			groups = append(groups, Group{StoreName: l.StoreName})
		}
		groups[i].Lines = append(groups[i].Lines, l)
		if l.counted() {
			groups[i].Subtotal += l.Subtotal()
		}
	}

	return groups
}

// Checkout возвращает выбранные строки или ErrNoItemsSelected.
func (c *Cart) Checkout() ([]Line, error) {
	selected := c.SelectedLines()
	if len(selected) == 0 {
		return nil, ErrNoItemsSelected
	}
	return selected, nil
}

// RemoveSelected удаляет выбранные строки после успешного оформления.
func (c *Cart) RemoveSelected() {
	kept := c.lines[:0]
	for _, l := range c.lines {
		if !l.counted() {
			kept = append(kept, l)
		}
	}
	c.lines = kept
	c.reindex()
}

func (c *Cart) reindex() {
	c.index = make(map[string]int, len(c.lines))
	for i, l := range c.lines {
		c.index[l.ID] = i
	}
}
