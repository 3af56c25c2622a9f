package export

import (
	"context"
	"encoding/json"
	"io"

	"mercator-hq/rulegate/pkg/audit"
)

// JSONExporter exports audit events as a JSON array.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{
		Pretty: pretty,
	}
}

// Export writes events to w as a JSON array. An empty slice is written as [].
func (e *JSONExporter) Export(ctx context.Context, events []*audit.Event, w io.Writer) error {
	if events == nil {
		events = []*audit.Event{}
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(events, "", "  ")
	} else {
		data, err = json.Marshal(events)
	}
	if err != nil {
		return audit.NewExportError("json", len(events), err)
	}

	if _, err := w.Write(data); err != nil {
		return audit.NewExportError("json", len(events), err)
	}
	return nil
}

// ExportStream writes events from eventsCh to w as a JSON array without
// holding them all in memory.
func (e *JSONExporter) ExportStream(ctx context.Context, eventsCh <-chan *audit.Event, w io.Writer) error {
	if _, err := w.Write([]byte("[")); err != nil {
		return audit.NewExportError("json", 0, err)
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-eventsCh:
			if !ok {
				if _, err := w.Write([]byte("]")); err != nil {
					return audit.NewExportError("json", count, err)
				}
				return nil
			}

			if count > 0 {
				sep := ","
				if e.Pretty {
					sep = ",\n"
				}
				if _, err := io.WriteString(w, sep); err != nil {
					return audit.NewExportError("json", count, err)
				}
			}

			data, err := e.serialize(ev)
			if err != nil {
				return audit.NewExportError("json", count, err)
			}
			if _, err := w.Write(data); err != nil {
				return audit.NewExportError("json", count, err)
			}
			count++
		}
	}
}

func (e *JSONExporter) serialize(ev *audit.Event) ([]byte, error) {
	if e.Pretty {
		return json.MarshalIndent(ev, "  ", "  ")
	}
	return json.Marshal(ev)
}
