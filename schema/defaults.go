package schema

// Built-in rule sets for the back-office record tables. A deployment can
// replace any of these via a TOML rules file; the defaults describe the
// reference schema the REST datastore is provisioned with.

var defaultPeriods = PeriodConfig{
	Table:       "accounting_periods",
	NameField:   "period_name",
	StatusField: "status",
	StartsField: "starts_on",
	EndsField:   "ends_on",
	OpenValue:   "OPEN",
}

func f(v float64) *float64 { return &v }

func defaultTables() map[string]*TableRules {
	return map[string]*TableRules{
		"entities": {
			Required: []string{"entity_id", "name"},
			KeyField: "entity_id",
			Types: map[string]FieldType{
				"entity_id": TypeString,
				"name":      TypeString,
			},
			Constraints: map[string]*Constraint{
				"entity_id": {Pattern: `^ENT-`, MaxLength: 32},
				"name":      {MaxLength: 256},
			},
			AuditFields: []string{"created_by", "created_at"},
		},
		"instructions": {
			Required: []string{"instruction_id", "status", "trade_date", "entity_id"},
			KeyField: "instruction_id",
			Types: map[string]FieldType{
				"instruction_id": TypeString,
				"status":         TypeString,
				"trade_date":     TypeDate,
				"entity_id":      TypeString,
				"quantity":       TypeNumber,
				"currency":       TypeString,
			},
			Enums: map[string][]string{
				"status": {"DRAFT", "PENDING", "RELEASED", "SETTLED", "CANCELLED"},
			},
			Constraints: map[string]*Constraint{
				"instruction_id": {Pattern: `^INS-`, MaxLength: 32},
				"currency":       {MaxLength: 3},
				"quantity":       {Min: f(0)},
			},
			ForeignKeys: []ForeignKey{
				{Field: "entity_id", RefTable: "entities", RefField: "entity_id"},
			},
			AuditFields: []string{"created_by", "created_at"},
		},
		"allocations": {
			Required: []string{"allocation_id", "instruction_id", "account", "quantity"},
			KeyField: "allocation_id",
			Types: map[string]FieldType{
				"allocation_id":  TypeString,
				"instruction_id": TypeString,
				"account":        TypeString,
				"quantity":       TypeNumber,
			},
			Constraints: map[string]*Constraint{
				"allocation_id": {Pattern: `^ALC-`, MaxLength: 32},
				"quantity":      {Min: f(0)},
			},
			ForeignKeys: []ForeignKey{
				{Field: "instruction_id", RefTable: "instructions", RefField: "instruction_id"},
			},
			AuditFields: []string{"created_by", "created_at"},
		},
		"business_events": {
			Required: []string{"event_id", "event_type", "instruction_id"},
			KeyField: "event_id",
			Types: map[string]FieldType{
				"event_id":       TypeString,
				"event_type":     TypeString,
				"instruction_id": TypeString,
				"occurred_at":    TypeString,
			},
			Enums: map[string][]string{
				"event_type": {"CREATE", "AMEND", "CANCEL", "SETTLE"},
			},
			Constraints: map[string]*Constraint{
				"event_id": {Pattern: `^EVT-`, MaxLength: 32},
			},
			ForeignKeys: []ForeignKey{
				{Field: "instruction_id", RefTable: "instructions", RefField: "instruction_id"},
			},
			AuditFields: []string{"created_by", "created_at"},
		},
		"bookings": {
			Required: []string{"booking_id", "instruction_id", "booking_date"},
			KeyField: "booking_id",
			Types: map[string]FieldType{
				"booking_id":     TypeString,
				"instruction_id": TypeString,
				"booking_date":   TypeDate,
			},
			Constraints: map[string]*Constraint{
				"booking_id": {Pattern: `^BKG-`, MaxLength: 32},
			},
			ForeignKeys: []ForeignKey{
				{Field: "instruction_id", RefTable: "instructions", RefField: "instruction_id"},
			},
			PeriodSensitive:    true,
			EffectiveDateField: "booking_date",
			AuditFields:        []string{"created_by", "created_at"},
		},
		"ledger_entries": {
			Required: []string{"entry_id", "booking_id", "account", "amount", "posting_date"},
			KeyField: "entry_id",
			Types: map[string]FieldType{
				"entry_id":     TypeString,
				"booking_id":   TypeString,
				"account":      TypeString,
				"amount":       TypeNumber,
				"posting_date": TypeDate,
				"side":         TypeString,
			},
			Enums: map[string][]string{
				"side": {"DEBIT", "CREDIT"},
			},
			Constraints: map[string]*Constraint{
				"entry_id": {Pattern: `^LED-`, MaxLength: 32},
				"account":  {MaxLength: 64},
			},
			ForeignKeys: []ForeignKey{
				{Field: "booking_id", RefTable: "bookings", RefField: "booking_id"},
			},
			PeriodSensitive:    true,
			EffectiveDateField: "posting_date",
			AuditFields:        []string{"created_by", "created_at"},
		},
		"accounting_periods": {
			Required: []string{"period_name", "status", "starts_on", "ends_on"},
			KeyField: "period_name",
			Types: map[string]FieldType{
				"period_name": TypeString,
				"status":      TypeString,
				"starts_on":   TypeDate,
				"ends_on":     TypeDate,
			},
			Enums: map[string][]string{
				"status": {"OPEN", "CLOSED"},
			},
			AuditFields: []string{"created_by", "created_at"},
		},
	}
}

// Default returns the built-in rule set. It never fails: the defaults are
// covered by tests and construction errors in them are programmer errors.
func Default() *RuleSet {
	rs, err := New(defaultTables(), defaultPeriods)
	if err != nil {
		panic(err)
	}
	return rs
}
