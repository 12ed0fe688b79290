package demographics

// Sentinel is the option label meaning "no selection".
const Sentinel = "?"

// CanonicalOrder fixes the descriptor order so equal selections always
// produce the same prompt.
var CanonicalOrder = []string{"age", "gender", "ethnicity", "education", "employment", "income"}

var defaultFields = []Field{
	{
		ID:      "age",
		Label:   "Age",
		Options: []string{Sentinel, "Child", "Teen", "Young Adult", "Middle-Aged", "Senior"},
		Phrases: map[string]string{
			"Child":       "child",
			"Teen":        "teenager",
			"Young Adult": "young adult",
			"Middle-Aged": "middle-aged",
			"Senior":      "elderly",
		},
	},
	{
		ID:      "gender",
		Label:   "Gender",
		Options: []string{Sentinel, "Male", "Female"},
		Phrases: map[string]string{
			"Male":   "male",
			"Female": "female",
		},
	},
	{
		ID:    "ethnicity",
		Label: "Ethnicity",
		Options: []string{
			Sentinel,
			"White",
			"Asian",
			"American Indian",
			"Black or African American",
			"Hispanic Latino or Spanish origin",
			"Middle Eastern or North African",
			"Native Hawaiian or Other Pacific Islander",
			"Other",
		},
		Phrases: map[string]string{
			"White":                                     "caucasian",
			"Asian":                                     "asian",
			"American Indian":                           "native american",
			"Black or African American":                 "african american",
			"Hispanic Latino or Spanish origin":         "hispanic",
			"Middle Eastern or North African":           "middle eastern",
			"Native Hawaiian or Other Pacific Islander": "pacific islander",
			"Other": "mixed ethnicity",
		},
	},
	{
		ID:      "education",
		Label:   "Education",
		Options: []string{Sentinel, "Some schooling", "High school", "College", "Graduate / professional degree"},
		Phrases: map[string]string{
			"Some schooling":                 "with basic education",
			"High school":                    "with high school education",
			"College":                        "college educated",
			"Graduate / professional degree": "highly educated professional",
		},
	},
	{
		ID:      "employment",
		Label:   "Employment",
		Options: []string{Sentinel, "Unemployed", "Student", "Part-time", "Full-time", "Retired"},
		Phrases: map[string]string{
			"Unemployed": "unemployed",
			"Student":    "student",
			"Part-time":  "part-time worker",
			"Full-time":  "professional worker",
			"Retired":    "retired",
		},
	},
	{
		ID:    "income",
		Label: "Income",
		Options: []string{
			Sentinel,
			"$0–$24,999",
			"$25,000–$49,999",
			"$50,000–$99,999",
			"$100,000–$199,999",
			"$200,000+",
		},
		Phrases: map[string]string{
			"$0–$24,999":        "low income",
			"$25,000–$49,999":   "modest income",
			"$50,000–$99,999":   "middle class",
			"$100,000–$199,999": "upper middle class",
			"$200,000+":         "wealthy",
		},
	},
}

// DefaultFields returns a deep copy of the installation's field schema.
func DefaultFields() []Field {
	out := make([]Field, 0, len(defaultFields))
	for _, f := range defaultFields {
		out = append(out, f.clone())
	}
	return out
}

// DefaultSchema is the schema the kiosk ships with.
func DefaultSchema() *Schema {
	s, err := NewSchema(DefaultFields())
	if err != nil {
		panic(err)
	}
	return s
}
