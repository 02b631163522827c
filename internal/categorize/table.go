package categorize

// Fallback is the category assigned when no keyword matches. It is never a
// key in a Table and is never scored.
const Fallback = "Other"

// Category is a named group of keywords
type Category struct {
	Name     string
	Keywords []string
}

// Table is an ordered set of categories. Order matters: when two categories
// tie on score, the one declared first wins.
type Table []Category

// DefaultTable is the built-in keyword table. Some keywords deliberately
// appear in more than one category ("gas" is both Transportation and
// Utilities); ties resolve by declaration order.
var DefaultTable = Table{
	{
		Name: "Food & Dining",
		Keywords: []string{
			"restaurant", "cafe", "coffee", "starbucks", "mcdonald", "burger",
			"pizza", "subway", "chipotle", "dunkin", "diner", "grill", "bakery",
			"bistro", "taco", "sushi", "kitchen", "bagel", "sandwich", "latte",
			"espresso", "doordash", "grubhub", "ubereats",
		},
	},
	{
		Name: "Groceries",
		Keywords: []string{
			"grocery", "supermarket", "market", "whole foods", "trader joe",
			"safeway", "kroger", "aldi", "publix", "costco", "walmart", "produce",
			"milk", "eggs", "bread",
		},
	},
	{
		Name: "Transportation",
		Keywords: []string{
			"gas", "fuel", "shell", "chevron", "exxon", "uber", "lyft", "taxi",
			"parking", "toll", "transit", "metro", "amtrak", "bus fare",
		},
	},
	{
		Name: "Shopping",
		Keywords: []string{
			"amazon", "target", "mall", "store", "outlet", "clothing", "apparel",
			"shoes", "best buy", "ebay", "etsy", "boutique",
		},
	},
	{
		Name: "Entertainment",
		Keywords: []string{
			"movie", "cinema", "theater", "netflix", "spotify", "concert",
			"ticket", "game", "steam", "hulu", "disney", "bowling", "museum",
		},
	},
	{
		Name: "Utilities",
		Keywords: []string{
			"electric", "water", "gas", "internet", "utility", "comcast",
			"verizon", "at&t", "t-mobile", "power", "energy", "sewer", "trash",
		},
	},
	{
		Name: "Healthcare",
		Keywords: []string{
			"pharmacy", "cvs", "walgreens", "rite aid", "doctor", "clinic",
			"hospital", "dental", "medical", "prescription", "optometry",
		},
	},
	{
		Name: "Travel",
		Keywords: []string{
			"hotel", "airline", "flight", "airbnb", "marriott", "hilton",
			"expedia", "delta", "united", "motel", "resort", "booking",
		},
	},
	{
		Name: "Education",
		Keywords: []string{
			"school", "university", "college", "tuition", "course", "udemy",
			"coursera", "bookstore", "textbook", "training",
		},
	},
	{
		Name: "Personal Care",
		Keywords: []string{
			"salon", "barber", "spa", "nail", "cosmetics", "sephora", "ulta",
			"haircut", "gym", "fitness",
		},
	},
	{
		Name: "Home & Garden",
		Keywords: []string{
			"home depot", "lowe's", "hardware", "garden", "furniture", "ikea",
			"nursery", "lumber", "paint", "plumbing",
		},
	},
	{
		Name: "Insurance",
		Keywords: []string{
			"insurance", "geico", "allstate", "progressive", "state farm",
			"premium", "policy",
		},
	},
	{
		Name: "Business Services",
		Keywords: []string{
			"office", "fedex", "ups store", "usps", "printing", "staples",
			"shipping", "postage", "software", "consulting",
		},
	},
	{
		Name: "Gifts & Donations",
		Keywords: []string{
			"gift", "donation", "charity", "florist", "flowers", "hallmark",
			"church", "foundation",
		},
	},
}
