package payload

import (
	"context"
	"sort"

	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/models"
)

// Source is the submission storage collaborator.
type Source interface {
	GetSubmission(ctx context.Context, formUID, submissionID, ownerID string) (*models.Submission, error)
}

// orderedPairs returns the submission's answers in form-schema order, led by
// the version field and closed by the record id. Answers the schema does not
// know keep their captured order after the known ones. Instances of a
// repeating group sort by their schema path and keep their captured order.
func orderedPairs(form *models.Form, sub *models.Submission) []Pair {
	index := make(map[string]int, len(form.Fields))
	for i, f := range form.Fields {
		index[f] = i
	}

	fields := make([]models.FieldValue, 0, len(sub.Fields))
	for _, f := range sub.Fields {
		if f.Path == models.VersionField || f.Path == models.IDField || f.Path == "" {
			continue
		}
		fields = append(fields, f)
	}
	sort.SliceStable(fields, func(i, j int) bool {
		a, aok := index[schemaPath(fields[i].Path)]
		b, bok := index[schemaPath(fields[j].Path)]
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		}
		return false
	})

	version := sub.VersionID
	if version == "" {
		version = form.VersionID
	}

	pairs := make([]Pair, 0, len(fields)+2)
	pairs = append(pairs, Pair{Path: models.VersionField, Value: version})
	for _, f := range fields {
		pairs = append(pairs, Pair{Path: f.Path, Value: f.Value})
	}
	pairs = append(pairs, Pair{Path: models.IDField, Value: sub.ID})
	return pairs
}

func fetch(ctx context.Context, src Source, form *models.Form, submissionID string) (*models.Submission, error) {
	sub, err := src.GetSubmission(ctx, form.UID, submissionID, form.OwnerID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, faults.NewSubmissionNotFound(form.UID, submissionID)
	}
	return sub, nil
}
