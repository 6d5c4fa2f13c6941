package data

// DemoMenu returns the restaurant products served by the demo collaborator.
func DemoMenu() *Store {
	return NewStore("products", []map[string]any{
		{"id": "1", "name": "Margherita Pizza", "price": 12.50, "category": "mains", "description": "Tomato, mozzarella, basil"},
		{"id": "2", "name": "Truffle Risotto", "price": 18.00, "category": "mains", "description": "Arborio rice, black truffle"},
		{"id": "3", "name": "Caesar Salad", "price": 9.75, "category": "starters", "description": "Romaine, parmesan, croutons"},
		{"id": "4", "name": "Garlic Bread", "price": 5.50, "category": "starters", "description": "Sourdough, garlic butter"},
		{"id": "5", "name": "Grilled Salmon", "price": 22.00, "category": "mains", "description": "Lemon butter, seasonal greens"},
		{"id": "6", "name": "Tiramisu", "price": 7.25, "category": "desserts", "description": "Mascarpone, espresso, cocoa"},
		{"id": "7", "name": "Panna Cotta", "price": 6.50, "category": "desserts", "description": "Vanilla bean, berry coulis"},
		{"id": "8", "name": "Sparkling Water", "price": 3.00, "category": "drinks", "description": "750ml bottle"},
		{"id": "9", "name": "House Red", "price": 8.50, "category": "drinks", "description": "Glass of Montepulciano"},
		{"id": "10", "name": "Espresso", "price": 2.75, "category": "drinks", "description": "Double shot"},
	})
}
