package techlog

import "time"

// EventType is the coarse classification of a tech-log event.
type EventType string

const (
	EventDBCall      EventType = "DB_CALL"
	EventServiceCall EventType = "SERVICE_CALL"
	EventLock        EventType = "LOCK"
	EventException   EventType = "EXCEPTION"
	EventOther       EventType = "OTHER"
)

// eventTypeByName maps raw tech-log event names to their classification.
var eventTypeByName = map[string]EventType{
	"DBMSSQL":   EventDBCall,
	"DBPOSTGRS": EventDBCall,
	"DBORACLE":  EventDBCall,
	"DBDA":      EventDBCall,
	"SDBL":      EventDBCall,
	"CALL":      EventServiceCall,
	"SCALL":     EventServiceCall,
	"TLOCK":     EventLock,
	"TTIMEOUT":  EventLock,
	"TDEADLOCK": EventLock,
	"EXCP":      EventException,
}

// Field is one key=value property of an event. Property order is
// preserved as it appears in the log line.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is a single parsed tech-log record. Events are immutable once
// parsed; the batch that produced them owns the backing storage.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"event_type"`
	Name       string    `json:"event_name"`
	DurationMS int64     `json:"duration_ms"`
	Fields     []Field   `json:"fields,omitempty"`
	File       string    `json:"file"`
	SourceLine int       `json:"source_line"`
}

// Get returns the value of the first field with the given key.
func (e *Event) Get(key string) (string, bool) {
	for i := range e.Fields {
		if e.Fields[i].Key == key {
			return e.Fields[i].Value, true
		}
	}
	return "", false
}

// Batch is the result of parsing one input set.
type Batch struct {
	Events    []Event `json:"events"`
	Malformed int     `json:"malformed_lines"`
	Files     int     `json:"files_read"`
}

// CountByType tallies events per classification.
func (b *Batch) CountByType() map[EventType]int {
	counts := make(map[EventType]int, 5)
	for i := range b.Events {
		counts[b.Events[i].Type]++
	}
	return counts
}
