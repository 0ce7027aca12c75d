package database

import (
	"github.com/MarcoPoloResearchLab/jobbridge/internal/config"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
)

// MigrationsTable records applied data migrations.
var MigrationsTable = docstore.Table{Name: "schema_migrations", KeyAttribute: "name"}

// Schema is the set of logical tables the services use.
type Schema struct {
	Users         docstore.Table
	Students      docstore.Table
	Jobs          docstore.Table
	Applications  docstore.Table
	HiringRecords docstore.Table
	Notifications docstore.Table
	Courses       docstore.Table
	Issues        docstore.Table
	Contacts      docstore.Table
}

// SchemaFromConfig binds configured table names to their key attributes.
func SchemaFromConfig(names config.TableNames) Schema {
	return Schema{
		Users:         docstore.Table{Name: names.Users, KeyAttribute: "userId"},
		Students:      docstore.Table{Name: names.Students, KeyAttribute: "studentId"},
		Jobs:          docstore.Table{Name: names.Jobs, KeyAttribute: "jobId"},
		Applications:  docstore.Table{Name: names.Applications, KeyAttribute: "applicationId"},
		HiringRecords: docstore.Table{Name: names.HiringRecords, KeyAttribute: "hiringRecordId"},
		Notifications: docstore.Table{Name: names.Notifications, KeyAttribute: "notificationId"},
		Courses:       docstore.Table{Name: names.Courses, KeyAttribute: "courseId"},
		Issues:        docstore.Table{Name: names.Issues, KeyAttribute: "issueId"},
		Contacts:      docstore.Table{Name: names.Contacts, KeyAttribute: "contactId"},
	}
}

// Tables lists every logical table in provisioning order.
func (s Schema) Tables() []docstore.Table {
	return []docstore.Table{
		s.Users,
		s.Students,
		s.Jobs,
		s.Applications,
		s.HiringRecords,
		s.Notifications,
		s.Courses,
		s.Issues,
		s.Contacts,
	}
}
