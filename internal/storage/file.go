package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agenteconomy/backend/internal/token"
)

const ledgerFileName = "token_ledger.jsonl"

// FileStore appends one canonical JSON transaction per line to a
// ledger file under the storage directory. Appends are synced before
// returning so a crash never loses an acknowledged entry.
type FileStore struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewFileStore opens (creating if needed) the ledger file under dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	path := filepath.Join(dir, ledgerFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	return &FileStore{file: f, path: path}, nil
}

func (s *FileStore) Append(tx *token.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return s.file.Sync()
}

func (s *FileStore) LoadAll() ([]token.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var txs []token.Transaction
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tx token.Transaction
		if err := json.Unmarshal(line, &tx); err != nil {
			return nil, fmt.Errorf("corrupt ledger line %d: %w", len(txs)+1, err)
		}
		txs = append(txs, tx)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
