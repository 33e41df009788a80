package proxmox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/proxtag/proxtag/internal/domain"
)

// FileShim is a testing implementation backed by a JSON file of managed
// objects. SetTags rewrites the file, so tag changes survive restarts and
// can be inspected by hand.
type FileShim struct {
	filePath string
	mu       sync.RWMutex
}

// Ensure FileShim implements InventoryClient.
var _ InventoryClient = (*FileShim)(nil)

// NewFileShim creates a new file-based shim.
func NewFileShim(filePath string) *FileShim {
	return &FileShim{filePath: filePath}
}

// ListManagedObjects reads all objects from the file. Enrichment sections
// come straight from the file content, so the enrich argument is ignored.
func (f *FileShim) ListManagedObjects(ctx context.Context, enrich []string) ([]*domain.ManagedObject, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.load()
}

func (f *FileShim) load() ([]*domain.ManagedObject, error) {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.ManagedObject{}, nil
		}
		return nil, fmt.Errorf("reading inventory file: %w", err)
	}

	var objects []*domain.ManagedObject
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, fmt.Errorf("parsing inventory file: %w", err)
	}
	return objects, nil
}

// SetTags updates the object's tag string and rewrites the file atomically.
func (f *FileShim) SetTags(ctx context.Context, node string, vmid int, vmType string, tags map[string]bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	objects, err := f.load()
	if err != nil {
		return err
	}

	found := false
	for _, obj := range objects {
		if obj.VMID == vmid {
			obj.Tags = domain.FormatTags(tags)
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("VM %d not found in inventory file", vmid)
	}

	data, err := json.MarshalIndent(objects, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling inventory: %w", err)
	}

	// Write-temp-then-rename so a crash cannot corrupt the file.
	tmp, err := os.CreateTemp(filepath.Dir(f.filePath), ".inventory-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing inventory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing inventory file: %w", err)
	}

	log.Printf("[FileShim] VM %d tags set to %q", vmid, domain.FormatTags(tags))
	return nil
}
