package entities

import "github.com/JonMunkholm/resolver/internal/core"

func init() {
	registerTask()
	registerNote()
}

func registerTask() {
	core.Register(core.EntityDefinition{
		Kind:  core.EntityTask,
		Label: "Tasks",
		Table: "tasks",
		Fields: []core.FieldSpec{
			{Name: "id", Label: "Id", Type: core.FieldID},
			{Name: "title", Label: "Title", Required: true, Aliases: []string{"task", "subject"}},
			{Name: "body", Label: "Body", Aliases: []string{"description", "details"}},
			{Name: "status", Label: "Status", Type: core.FieldChoice, Options: []string{"TODO", "IN_PROGRESS", "DONE"}},
			{Name: "due_at", Label: "Due", Type: core.FieldDateTime, Aliases: []string{"due date", "deadline"}},
			{Name: "assignee", Label: "Assignee", Aliases: []string{"owner", "assigned to"}},
			{Name: "assignee_email", Label: "Assignee email", Type: core.FieldEmail, Aliases: []string{"owner email"}},
		},
		Matchers: []core.MatchableField{
			{Field: "id", Label: "Id", Behavior: core.UpdateOnly},
			{Field: "title", Label: "Title", Behavior: core.CreateOrUpdate},
		},
		Indexes: []core.IndexKey{core.IndexID, core.IndexName},
		Links: []core.EntityLink{
			{
				Key:          "assignee",
				Source:       "assignee",
				TargetEntity: core.EntityPerson,
				TargetModel:  "people",
				EmailSource:  "assignee_email",
			},
		},
	})
}

func registerNote() {
	core.Register(core.EntityDefinition{
		Kind:  core.EntityNote,
		Label: "Notes",
		Table: "notes",
		Fields: []core.FieldSpec{
			{Name: "id", Label: "Id", Type: core.FieldID},
			{Name: "title", Label: "Title", Aliases: []string{"subject"}},
			{Name: "body", Label: "Body", Required: true, Aliases: []string{"note", "content", "text"}},
			{Name: "created_at", Label: "Created", Type: core.FieldDateTime, Aliases: []string{"date"}},
			{Name: "person_email", Label: "Person email", Type: core.FieldEmail, Aliases: []string{"contact email"}},
			{Name: "company", Label: "Company"},
		},
		// Notes have no natural key: everything but a known id is new
		Matchers: []core.MatchableField{
			{Field: "id", Label: "Id", Behavior: core.UpdateOnly},
			{Field: "title", Label: "Title", Behavior: core.AlwaysCreate},
		},
		Indexes: []core.IndexKey{core.IndexID},
		Links: []core.EntityLink{
			{Key: "person", TargetEntity: core.EntityPerson, TargetModel: "people", EmailSource: "person_email"},
			{Key: "company", Source: "company", TargetEntity: core.EntityCompany, TargetModel: "companies", EmailSource: "person_email"},
		},
	})
}
