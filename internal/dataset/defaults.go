package dataset

// Defaults returns the production dataset definitions. Datasets are declared
// in code; adding one is a deploy, which keeps definitions and ingestion
// logic versioned together.
func Defaults() []Definition {
	return []Definition{
		{
			Name:              "farms",
			FilePrefixFormat:  "farms/FARM_{date}",
			DatePattern:       "20060102",
			DateTimePattern:   "20060102150405",
			PrimaryKeyHeaders: []string{"REGION", "FARM_ID"},
			ChangeTypeHeader:  "CHANGE_TYPE",
			Accumulators:      map[string]bool{"CERTIFICATIONS": true},
		},
		{
			Name:              "products",
			FilePrefixFormat:  "products/PRODUCT_{date}",
			DatePattern:       "20060102",
			DateTimePattern:   "20060102150405",
			PrimaryKeyHeaders: []string{"PRODUCT_ID"},
			ChangeTypeHeader:  "CHANGE_TYPE",
			Accumulators:      map[string]bool{"MARKETS": true},
		},
		{
			Name:              "suppliers",
			FilePrefixFormat:  "suppliers/SUPPLIER_{date}",
			DatePattern:       "20060102",
			DateTimePattern:   "20060102150405",
			PrimaryKeyHeaders: []string{"COUNTRY", "SUPPLIER_ID"},
			ChangeTypeHeader:  "CHANGE_TYPE",
		},
	}
}
