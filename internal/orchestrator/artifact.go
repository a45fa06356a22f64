package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"nearautopilot/pkg/types"
)

// Artifact is what an ArtifactProvider hands back for one submission
// attempt: the location the deliverable can be fetched from, and its
// content hash.
type Artifact struct {
	DeliverableURL  string
	DeliverableHash string
}

// ArtifactProvider is the upstream that produces deliverable content for
// an accepted assignment. The autopilot does not generate content itself;
// it only needs something that satisfies this interface at submission
// time.
type ArtifactProvider interface {
	Produce(ctx context.Context, job types.MarketJob, assignmentID string) (Artifact, error)
}

// StaticArtifactProvider is the default ArtifactProvider: it points every
// submission at a deterministic URL under a configured base and hashes
// the (job, assignment) pair rather than any real content. It exists so
// `run`/`tick` are runnable out of the box; operators with a real
// artifact-producing upstream supply their own ArtifactProvider instead.
type StaticArtifactProvider struct {
	BaseURL string
}

// Produce returns a deterministic placeholder artifact for (job, assignmentID).
func (p StaticArtifactProvider) Produce(_ context.Context, job types.MarketJob, assignmentID string) (Artifact, error) {
	url := fmt.Sprintf("%s/%s/%s", p.BaseURL, job.JobID, assignmentID)
	sum := sha256.Sum256([]byte(job.JobID + ":" + assignmentID))
	return Artifact{
		DeliverableURL:  url,
		DeliverableHash: hex.EncodeToString(sum[:]),
	}, nil
}
