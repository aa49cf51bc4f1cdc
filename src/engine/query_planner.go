package engine

import (
	"fmt"
	"strings"

	hashindex "shelfdb/src/hash_index"
	"shelfdb/src/models"
	"shelfdb/src/sharding"
)

// PlanKind says how a query's candidate files were chosen.
type PlanKind int

const (
	PlanFullScan PlanKind = iota
	PlanIndex
	PlanByID
	PlanEmpty
)

func (k PlanKind) String() string {
	switch k {
	case PlanIndex:
		return "index"
	case PlanByID:
		return "id"
	case PlanEmpty:
		return "empty"
	}
	return "full-scan"
}

// QueryPlan is the candidate file set for a conjunction of conditions. Every
// document in the candidate files is still checked against all conditions.
type QueryPlan struct {
	Kind       PlanKind
	Index      string
	Driver     *models.Condition
	Candidates []string
	Conditions []models.Condition
}

func (p *QueryPlan) String() string {
	var b strings.Builder
	b.WriteString(p.Kind.String())
	if p.Driver != nil {
		fmt.Fprintf(&b, " on %s %s %v", p.Driver.Field, p.Driver.Operator, p.Driver.Value)
	}
	if p.Index != "" {
		fmt.Fprintf(&b, " using %s", p.Index)
	}
	fmt.Fprintf(&b, ", %d candidate file(s)", len(p.Candidates))
	return b.String()
}

func validateConditions(conds []models.Condition) error {
	for _, c := range conds {
		if !c.Valid() {
			return errorf(KindInvalidArgument, "", "invalid condition %q %q", c.Field.String(), c.Operator)
		}
	}
	return nil
}

// Plan resolves the candidate files for conds without reading documents.
func (c *Collection) Plan(conds []models.Condition) (*QueryPlan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireLive(); err != nil {
		return nil, err
	}
	return c.planLocked(conds)
}

// planLocked picks, in order: an id equality (a single shard), the first
// equality on an indexed field (the index's candidates), or every shard.
func (c *Collection) planLocked(conds []models.Condition) (*QueryPlan, error) {
	if err := validateConditions(conds); err != nil {
		return nil, err
	}
	plan := &QueryPlan{Conditions: conds}

	for i := range conds {
		cond := conds[i]
		if cond.Operator != models.OpEqual || !cond.Field.IsID() {
			continue
		}
		plan.Driver = &conds[i]
		id, ok := models.AsID(cond.Value)
		if !ok {
			plan.Kind = PlanEmpty
			return plan, nil
		}
		plan.Kind = PlanByID
		plan.Candidates = []string{sharding.ShardPath(id, c.codec.Ext())}
		return plan, nil
	}

	for i := range conds {
		cond := conds[i]
		if cond.Operator != models.OpEqual {
			continue
		}
		hi := c.indexes.Find(cond.Field)
		if hi == nil {
			continue
		}
		candidates, err := hi.Consult(cond.Value)
		if err != nil {
			c.logger.Warnw("Index consult failed, falling back to a full scan", "index", hi.Name(), "error", err)
			break
		}
		plan.Kind = PlanIndex
		plan.Index = hi.Name()
		plan.Driver = &conds[i]
		plan.Candidates = candidates
		return plan, nil
	}

	shards, err := c.shardFiles()
	if err != nil {
		return nil, err
	}
	plan.Kind = PlanFullScan
	plan.Candidates = shards
	return plan, nil
}

// indexesTouching returns the indexes whose field starts with one of keys.
func (c *Collection) indexesTouching(keys map[string]struct{}) []*hashindex.HashIndex {
	var out []*hashindex.HashIndex
	for _, hi := range c.indexes.All() {
		if _, ok := keys[hi.Field()[0]]; ok {
			out = append(out, hi)
		}
	}
	return out
}
