package entities

import "github.com/JonMunkholm/resolver/internal/core"

func init() {
	registerCompany()
	registerPerson()
	registerOpportunity()
}

func registerCompany() {
	core.Register(core.EntityDefinition{
		Kind:  core.EntityCompany,
		Label: "Companies",
		Table: "companies",
		Fields: []core.FieldSpec{
			{Name: "id", Label: "Id", Type: core.FieldID, Aliases: []string{"company id", "record id"}},
			{Name: "name", Label: "Name", Required: true, Aliases: []string{"company", "company name", "account name", "organization"}},
			{Name: "domain", Label: "Domain", Type: core.FieldDomain, Aliases: []string{"website", "domain name", "url"}},
			{Name: "industry", Label: "Industry", Type: core.FieldChoice,
				Options: []string{"Software", "Finance", "Healthcare", "Manufacturing", "Retail", "Education", "Other"}},
			{Name: "employees", Label: "Employees", Rules: []string{"integer"}, Aliases: []string{"headcount", "number of employees"}},
			{Name: "annual_revenue", Label: "Annual revenue", Type: core.FieldFloat, Aliases: []string{"arr", "revenue"}},
			{Name: "phone", Label: "Phone", Type: core.FieldPhone},
			{Name: "linkedin", Label: "LinkedIn", Type: core.FieldURL, Aliases: []string{"linkedin url"}},
			{Name: "address", Label: "Address"},
			{Name: "founded_on", Label: "Founded", Rules: []string{"date"}},
		},
		Matchers: []core.MatchableField{
			{Field: "id", Label: "Id", Behavior: core.UpdateOnly},
			{Field: "domain", Label: "Domain", Behavior: core.CreateOrUpdate},
			{Field: "name", Label: "Name", Behavior: core.CreateOrUpdate},
		},
		Indexes: []core.IndexKey{core.IndexID, core.IndexDomain, core.IndexName},
	})
}

func registerPerson() {
	core.Register(core.EntityDefinition{
		Kind:  core.EntityPerson,
		Label: "People",
		Table: "people",
		Fields: []core.FieldSpec{
			{Name: "id", Label: "Id", Type: core.FieldID, Aliases: []string{"person id", "contact id"}},
			{Name: "name", Label: "Name", Required: true, Aliases: []string{"full name", "contact name", "contact"}},
			{Name: "email", Label: "Email", Type: core.FieldEmail, Aliases: []string{"e-mail", "email address", "work email"}},
			{Name: "phone", Label: "Phone", Type: core.FieldPhone, Aliases: []string{"mobile", "phone number"}},
			{Name: "job_title", Label: "Job title", Aliases: []string{"title", "position", "role"}},
			{Name: "city", Label: "City"},
			{Name: "linkedin", Label: "LinkedIn", Type: core.FieldURL},
			{Name: "birthday", Label: "Birthday", Type: core.FieldDate},
			{Name: "tags", Label: "Tags", Type: core.FieldMultiChoice,
				Options: []string{"customer", "prospect", "partner", "investor"}},
			{Name: "company", Label: "Company", Aliases: []string{"company name", "account", "organization"}},
			{Name: "company_id", Label: "Company id", Type: core.FieldID},
			{Name: "company_domain", Label: "Company domain", Type: core.FieldDomain, Aliases: []string{"company website"}},
		},
		Matchers: []core.MatchableField{
			{Field: "id", Label: "Id", Behavior: core.UpdateOnly},
			{Field: "email", Label: "Email", Behavior: core.CreateOrUpdate},
			{Field: "name", Label: "Name", Behavior: core.CreateOrUpdate},
		},
		Indexes: []core.IndexKey{core.IndexID, core.IndexEmail, core.IndexName},
		Links: []core.EntityLink{
			{
				Key:          "company",
				Source:       "company",
				TargetEntity: core.EntityCompany,
				TargetModel:  "companies",
				IDSource:     "company_id",
				EmailSource:  "email",
				DomainSource: "company_domain",
			},
		},
	})
}

func registerOpportunity() {
	core.Register(core.EntityDefinition{
		Kind:  core.EntityOpportunity,
		Label: "Opportunities",
		Table: "opportunities",
		Fields: []core.FieldSpec{
			{Name: "id", Label: "Id", Type: core.FieldID},
			{Name: "name", Label: "Name", Required: true, Aliases: []string{"opportunity", "deal", "deal name"}},
			{Name: "amount", Label: "Amount", Type: core.FieldFloat, Aliases: []string{"value", "deal value"}},
			{Name: "currency", Label: "Currency", Type: core.FieldChoice, Options: []string{"USD", "EUR", "GBP", "CAD", "AUD"}},
			{Name: "stage", Label: "Stage", Rules: []string{"in:NEW,SCREENING,MEETING,PROPOSAL,CUSTOMER"}},
			{Name: "close_date", Label: "Close date", Type: core.FieldDate, Aliases: []string{"expected close"}},
			{Name: "company", Label: "Company", Aliases: []string{"account", "company name"}},
			{Name: "company_id", Label: "Company id", Type: core.FieldID},
			{Name: "contact", Label: "Point of contact", Aliases: []string{"contact name", "point of contact"}},
			{Name: "contact_email", Label: "Contact email", Type: core.FieldEmail},
		},
		Matchers: []core.MatchableField{
			{Field: "id", Label: "Id", Behavior: core.UpdateOnly},
			{Field: "name", Label: "Name", Behavior: core.CreateOrUpdate},
		},
		Indexes: []core.IndexKey{core.IndexID, core.IndexName},
		Links: []core.EntityLink{
			{
				Key:          "company",
				Source:       "company",
				TargetEntity: core.EntityCompany,
				TargetModel:  "companies",
				IDSource:     "company_id",
				EmailSource:  "contact_email",
			},
			{
				Key:          "contact",
				Source:       "contact",
				TargetEntity: core.EntityPerson,
				TargetModel:  "people",
				EmailSource:  "contact_email",
			},
		},
	})
}
