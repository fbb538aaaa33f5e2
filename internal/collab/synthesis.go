package collab

import (
	"fmt"
	"strings"

	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// Synthesize merges partial results into one Result. Confidence is the mean
// over completed partials; anything that did not complete adds a
// partial_collaboration_failure warning.
func Synthesize(q *models.Query, partials []models.PartialResult) *models.Result {
	r := models.NewResult(q.ID, q.Mode)

	var (
		sb         strings.Builder
		sum        float64
		completed  int
		incomplete []string
	)
	for _, p := range partials {
		for _, w := range p.Warnings {
			r.Warn(fmt.Sprintf("%s: %s", p.SpecializationID, w))
		}
		if p.Status != models.PartialCompleted {
			incomplete = append(incomplete, fmt.Sprintf("%s (%s)", p.SpecializationID, p.Status))
			continue
		}
		completed++
		sum += p.Confidence
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## %s (confidence %.0f)\n%s", p.SpecializationID, p.Confidence, p.Finding)
	}

	if len(incomplete) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Not included: %s", strings.Join(incomplete, ", "))
		r.Warn(fmt.Sprintf("%s: %d of %d specialists did not complete: %s",
			apperr.KindPartialCollaborationFailure, len(incomplete), len(partials), strings.Join(incomplete, ", ")))
	}

	r.Response = sb.String()
	r.Data["partials"] = partials
	if completed == 0 {
		r.Success = false
		r.Confidence = 0
		r.Errors = append(r.Errors, "no specialist completed")
		return r
	}
	r.Success = true
	r.Confidence = models.ClampConfidence(sum / float64(completed))
	return r
}
