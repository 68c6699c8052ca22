// Package core resolves the rows of an uploaded CSV file against the
// records a tenant already has.
//
// The package holds all domain logic and knows nothing about HTTP or the
// command line. Stores, lock backends and record sources plug in through
// the [RecordSource], [RowStore] and [Locker] interfaces.
//
// # Entity Registry
//
// Entity kinds are registered at init time using [Register]. Each
// [EntityDefinition] lists the importable fields, the fields an import may
// match on and the lookup indexes the resolver builds:
//
//	core.Register(EntityDefinition{
//	    Kind:  EntityCompany,
//	    Label: "Companies",
//	    Fields: []FieldSpec{
//	        {Name: "name", Required: true},
//	        {Name: "domain", Type: FieldDomain, Aliases: []string{"website"}},
//	    },
//	    Matchers: []MatchableField{{Field: "domain", Behavior: CreateOrUpdate}},
//	    Indexes:  []IndexKey{IndexID, IndexDomain, IndexName},
//	})
//
// # Import Flow
//
//  1. [Service.SaveUpload] stores the file under a new import id.
//  2. [Service.DetectFile] and [Service.Suggest] sniff the delimiter, infer
//     column types and propose a column mapping.
//  3. [Service.Analyze] reports value counts and validation issues per column.
//  4. [Service.Preview] resolves a sample against existing records without
//     writing anything.
//  5. [Service.Stage] copies rows into the [RowStore] in chunks, then
//     [Service.Resolve] decides create, update or skip per distinct value.
//
// Resolution loads each tenant's records once into an [EntityResolver] and
// answers every lookup from normalized in-memory indexes.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each category has a code prefix:
//
//   - VAL: value and mapping validation
//   - FILE: file size, encoding and format
//   - RES: record lookup and resolution
//   - IMP: import lifecycle (busy tenant, missing upload, timeouts)
//   - DB: store errors
package core
