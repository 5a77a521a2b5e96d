// Package content abstracts the exam content service. The engine never
// stores or interprets exam material; it only carries opaque session
// handles and evaluation outcomes produced here.
package content

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/proficienthub/mockexam-engine/internal/models"
)

// Generator provisions a content session for one section. The returned
// handle is what clients use to fetch questions from the content service.
type Generator interface {
	GenerateSection(ctx context.Context, examType, sectionType, topic string) (sessionID string, err error)
}

// Evaluator scores submitted answers for a section. Deployments without
// server-side evaluation leave this nil and clients submit results directly.
type Evaluator interface {
	EvaluateSection(ctx context.Context, examType, sectionType, sessionID string, answers map[string]any) (*models.SectionResult, error)
}

// StaticGenerator mints opaque session handles without calling out to a
// content service. Used in tests and deployments where the client talks
// to the content service directly.
type StaticGenerator struct{}

// GenerateSection returns a fresh session handle
func (StaticGenerator) GenerateSection(ctx context.Context, examType, sectionType, topic string) (string, error) {
	return fmt.Sprintf("%s-%s-%s", examType, sectionType, uuid.New().String()), nil
}
