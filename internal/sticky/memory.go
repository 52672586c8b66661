package sticky

import (
	"context"
	"sync"
)

// MemoryService is an in-memory implementation of the Service interface.
// It uses a map for storage and RWMutex for thread-safe concurrent access.
// This implementation is suitable for development, testing, or single-instance deployments.
type MemoryService struct {
	mu   sync.RWMutex
	docs Docs // DocKey -> Document
}

// NewMemoryService creates a new in-memory service.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		docs: make(Docs),
	}
}

// GetAssignments returns a copy of the stored document.
func (m *MemoryService) GetAssignments(ctx context.Context, attributeName, attributeValue string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[DocKey(attributeName, attributeValue)]
	if !exists {
		return nil, nil
	}
	out := cloneDocument(doc)
	return &out, nil
}

// SaveAssignments stores a copy of doc, replacing any previous document.
func (m *MemoryService) SaveAssignments(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[doc.Key()] = cloneDocument(doc)
	return nil
}

// GetAllAssignments returns copies of the documents for each identifier.
func (m *MemoryService) GetAllAssignments(ctx context.Context, attributes map[string]string) (Docs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(Docs, len(attributes))
	for name, val := range attributes {
		key := DocKey(name, val)
		if doc, ok := m.docs[key]; ok {
			result[key] = cloneDocument(doc)
		}
	}
	return result, nil
}

// Close is a no-op for the in-memory service.
func (m *MemoryService) Close() error {
	return nil
}

func cloneDocument(doc Document) Document {
	assignments := make(map[string]string, len(doc.Assignments))
	for k, v := range doc.Assignments {
		assignments[k] = v
	}
	doc.Assignments = assignments
	return doc
}
