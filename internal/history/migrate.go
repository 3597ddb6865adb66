package history

import (
	"github.com/dohr-michael/parley/internal/a2a"
	"github.com/dohr-michael/parley/internal/chat"
)

// SchemaVersion is the version new records are written at.
const SchemaVersion = 3

// migration upgrades a record from version n to n+1.
type migration func(record) record

// migrations is the linear upgrade chain, keyed by the version a step
// upgrades FROM. The chain must stay append-only: published versions
// never change meaning.
var migrations = map[int]migration{
	0: migrateV0BubbleTypes,
	1: migrateV1TextToParts,
	2: migrateV2StatusSpelling,
}

// migrate walks the record up the chain to the current version. A
// missing step is logged and skipped rather than failing the load: a
// record from an unknown intermediate build still renders.
func (b *Bridge) migrate(rec record) record {
	for v := rec.Meta.SchemaVersion; v < SchemaVersion; v++ {
		step, ok := migrations[v]
		if !ok {
			b.log.Warn("no migration step registered", "task_id", rec.TaskID, "from_version", v)
			continue
		}
		rec = step(rec)
	}
	rec.Meta.SchemaVersion = SchemaVersion
	return rec
}

// v0 records used "human"/"ai" bubble types.
func migrateV0BubbleTypes(rec record) record {
	for i := range rec.Bubbles {
		switch rec.Bubbles[i].Type {
		case "human":
			rec.Bubbles[i].Type = BubbleUser
		case "ai":
			rec.Bubbles[i].Type = BubbleAgent
		}
	}
	return rec
}

// v1 records stored text only; parts were introduced in v2.
func migrateV1TextToParts(rec record) record {
	for i := range rec.Bubbles {
		bub := &rec.Bubbles[i]
		if len(bub.Parts) == 0 && bub.Text != "" {
			bub.Parts = []chat.ContentPart{{Kind: chat.PartText, Text: bub.Text}}
		}
	}
	return rec
}

// v2 records spelled the cancelled state the British way.
func migrateV2StatusSpelling(rec record) record {
	if rec.Meta.Status == "cancelled" {
		rec.Meta.Status = string(a2a.TaskStateCanceled)
	}
	return rec
}
