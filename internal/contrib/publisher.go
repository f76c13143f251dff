package contrib

import (
	"fmt"
	"time"

	"github.com/vaultmesh/vaultd/internal/memory"
)

type publisherFunc func(category, content, source string) error

func (f publisherFunc) Publish(category, content, source string) error {
	return f(category, content, source)
}

// MemoryPublisher appends approved contributions to a knowledge vault's
// long-term memory under a dated category heading.
func MemoryPublisher(store *memory.Store) Publisher {
	return publisherFunc(func(category, content, source string) error {
		if category == "" {
			category = "uncategorized"
		}

		block := fmt.Sprintf("\n\n## [%s] %s\n\n%s\n",
			category, time.Now().UTC().Format("2006-01-02"), content)
		if source != "" {
			block += fmt.Sprintf("\n_source: %s_\n", source)
		}

		_, err := store.Write(memory.FileLongTerm, block, memory.ModeAppend)
		return err
	})
}
