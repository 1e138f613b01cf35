package entstore

import (
	"math"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// change_events holds the retained log. seq is monotonic per stream and
// created_at is unix nanoseconds so retention cutoffs compare as integers on
// every dialect. payload is JSON text.
var (
	changeEventsColumns = []*schema.Column{
		{Name: "stream", Type: field.TypeString},
		{Name: "seq", Type: field.TypeInt64},
		{Name: "event_id", Type: field.TypeString, Unique: true},
		{Name: "payload", Type: field.TypeString, Size: math.MaxInt32, Nullable: true},
		{Name: "created_at", Type: field.TypeInt64},
	}
	changeEventsTable = &schema.Table{
		Name:       eventsTable,
		Columns:    changeEventsColumns,
		PrimaryKey: []*schema.Column{changeEventsColumns[0], changeEventsColumns[1]},
		Indexes: []*schema.Index{
			{
				Name:    "changeevent_stream_created_at",
				Unique:  false,
				Columns: []*schema.Column{changeEventsColumns[0], changeEventsColumns[4]},
			},
		},
	}
)

// change_heads tracks, per stream, the log id embedded in resume tokens, the
// last issued seq and the highest pruned seq. It outlives the events it
// describes so sequence numbers never restart after pruning.
var (
	changeHeadsColumns = []*schema.Column{
		{Name: "stream", Type: field.TypeString},
		{Name: "log_id", Type: field.TypeString},
		{Name: "last_seq", Type: field.TypeInt64},
		{Name: "pruned_seq", Type: field.TypeInt64},
	}
	changeHeadsTable = &schema.Table{
		Name:       headsTable,
		Columns:    changeHeadsColumns,
		PrimaryKey: []*schema.Column{changeHeadsColumns[0]},
	}
)

// tables lists every table Migrate creates or updates.
var tables = []*schema.Table{changeEventsTable, changeHeadsTable}
