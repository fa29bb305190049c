package erpsync

import (
	"fmt"
	"io"
	"text/tabwriter"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
)

type Counters struct {
	Succeeded int `json:"succeeded"`
	Fallback  int `json:"fallback"`
	Failed    int `json:"failed"`
}

func (c Counters) Total() int {
	return c.Succeeded + c.Fallback + c.Failed
}

func (c *Counters) Add(o Counters) {
	c.Succeeded += o.Succeeded
	c.Fallback += o.Fallback
	c.Failed += o.Failed
}

type EntitySummary struct {
	EntityType models.EntityType `json:"entityType"`
	State      State             `json:"state"`
	Counters
	Error string `json:"error,omitempty"`
}

type RunSummary struct {
	Entities []EntitySummary `json:"entities"`
	Total    Counters        `json:"total"`
}

// Summarize aggregates per-entity results, keeping their order.
func Summarize(results []EntityResult) RunSummary {
	summary := RunSummary{Entities: make([]EntitySummary, 0, len(results))}
	for _, res := range results {
		es := EntitySummary{
			EntityType: res.EntityType,
			State:      res.State,
			Counters:   res.Counters,
		}
		if res.Err != nil {
			es.Error = res.Err.Error()
		}
		summary.Entities = append(summary.Entities, es)
		summary.Total.Add(res.Counters)
	}
	return summary
}

func (s RunSummary) ByType(entityType models.EntityType) (Counters, bool) {
	for _, es := range s.Entities {
		if es.EntityType == entityType {
			return es.Counters, true
		}
	}
	return Counters{}, false
}

// Clean reports whether every entity type completed and no record failed.
func (s RunSummary) Clean() bool {
	if s.Total.Failed > 0 {
		return false
	}
	for _, es := range s.Entities {
		if es.State != StateCompleted {
			return false
		}
	}
	return true
}

// Status maps the summary onto the sync_runs status column.
func (s RunSummary) Status() string {
	if s.Clean() {
		return models.SyncRunStatusSuccess
	}
	for _, es := range s.Entities {
		if es.State != StateFailed {
			return models.SyncRunStatusPartial
		}
	}
	return models.SyncRunStatusFailed
}

func (s RunSummary) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tSTATE\tSUCCEEDED\tFALLBACK\tFAILED\tERROR")
	for _, es := range s.Entities {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", es.EntityType, es.State, es.Succeeded, es.Fallback, es.Failed, es.Error)
	}
	fmt.Fprintf(tw, "total\t\t%d\t%d\t%d\t\n", s.Total.Succeeded, s.Total.Fallback, s.Total.Failed)
	return tw.Flush()
}
