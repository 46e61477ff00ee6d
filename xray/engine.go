package xray

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Validator checks a config document without side effects on it.
type Validator interface {
	Validate(path string) error
}

// Reloader asks the running proxy to pick up the document at the live path.
type Reloader interface {
	Reload() error
}

// Engine owns read-modify-write access to the live configuration document.
// All reconciles are serialized behind one mutex: two concurrent projections
// reading stale state would silently drop one subscriber's change.
type Engine struct {
	mu sync.Mutex

	configPath string
	backupDir  string
	validator  Validator
	reloader   Reloader
	log        *zap.Logger
}

func NewEngine(configPath, backupDir string, v Validator, r Reloader, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		configPath: configPath,
		backupDir:  backupDir,
		validator:  v,
		reloader:   r,
		log:        log,
	}
}

// ReconcileResult reports what a reconcile touched. BackupPath is kept for
// audit and manual recovery.
type ReconcileResult struct {
	Changed    []string
	BackupPath string
}

// Reconcile makes the live document agree with one credential's desired
// presence across every listener. The live document is always either the
// pre-call document or a fully validated one: any failure after the write
// restores the snapshot taken up front.
func (e *Engine) Reconcile(credentialID, label string, present bool) (*ReconcileResult, error) {
	if credentialID == "" {
		return nil, errors.New("credential id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	backupPath, err := e.snapshot()
	if err != nil {
		// fail closed: no backup, no mutation
		return nil, &IOError{Stage: "backup", Err: err}
	}

	data, err := os.ReadFile(e.configPath)
	if err != nil {
		return nil, &IOError{Stage: "read", Err: err}
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, &IOError{Stage: "parse", Err: err}
	}

	var changed []string
	for _, in := range doc.Inbounds {
		if project(in, credentialID, label, present) {
			changed = append(changed, listenerName(in))
		}
	}

	if len(changed) == 0 {
		return &ReconcileResult{BackupPath: backupPath}, nil
	}

	out, err := doc.Marshal()
	if err != nil {
		return nil, &IOError{Stage: "encode", Err: err}
	}

	if err := e.writeValidated(out, backupPath); err != nil {
		return nil, err
	}

	e.log.Info("config reconciled",
		zap.String("uuid", credentialID),
		zap.Bool("present", present),
		zap.Strings("changed", changed))

	res := &ReconcileResult{Changed: changed, BackupPath: backupPath}
	if err := e.reloader.Reload(); err != nil {
		// document is valid and live; the caller may retry the reload alone
		return res, &ReloadError{Err: err}
	}
	return res, nil
}

// writeValidated writes the mutated document and runs the external validator.
// The deferred restore keys off the named return, so no failure path between
// write and a successful validation can skip the rollback.
func (e *Engine) writeValidated(data []byte, backupPath string) (err error) {
	defer func() {
		if err == nil {
			return
		}
		if rerr := e.restore(backupPath); rerr != nil {
			e.log.Error("rollback failed, manual recovery needed",
				zap.String("backup", backupPath),
				zap.Error(rerr))
		}
	}()

	if werr := os.WriteFile(e.configPath, data, 0644); werr != nil {
		return &IOError{Stage: "write", Err: werr}
	}
	if verr := e.validator.Validate(e.configPath); verr != nil {
		return &ValidationFailedError{BackupPath: backupPath, Err: verr}
	}
	return nil
}

// ListenerRef is one protocol/port a credential participates in.
type ListenerRef struct {
	Tag      string `json:"tag"`
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Flow     string `json:"flow,omitempty"`
}

// Presence is the inverse view of projection: everything the live document
// currently grants one credential.
type Presence struct {
	CredentialID string        `json:"credential_id"`
	Label        string        `json:"label,omitempty"`
	Listeners    []ListenerRef `json:"listeners"`
}

// ListPresence reconstructs, for every credential found in any listener, the
// protocol/port set it participates in, deduplicated across listeners with
// differing keying (a trojan password and a vless id carrying the same value
// are the same credential).
func (e *Engine) ListPresence() ([]Presence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := os.ReadFile(e.configPath)
	if err != nil {
		return nil, &IOError{Stage: "read", Err: err}
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, &IOError{Stage: "parse", Err: err}
	}

	byID := make(map[string]*Presence)
	var order []string

	record := func(id, label string, ref ListenerRef) {
		p, ok := byID[id]
		if !ok {
			p = &Presence{CredentialID: id}
			byID[id] = p
			order = append(order, id)
		}
		if p.Label == "" {
			p.Label = label
		}
		p.Listeners = append(p.Listeners, ref)
	}

	for _, in := range doc.Inbounds {
		kind := ProtocolKind(in.Protocol)
		if kind != KindIdentifier && kind != KindSecret {
			continue
		}
		for _, entry := range in.Clients {
			id := entry.ID()
			if kind == KindSecret {
				id = entry.Password()
			}
			if id == "" {
				continue
			}
			record(id, entry.Email(), ListenerRef{
				Tag:      in.Tag,
				Protocol: in.Protocol,
				Port:     in.Port,
				Flow:     entry.Flow(),
			})
		}
	}

	sort.Strings(order)
	out := make([]Presence, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (e *Engine) snapshot() (string, error) {
	if err := os.MkdirAll(e.backupDir, 0755); err != nil {
		return "", err
	}

	timestamp := time.Now().UTC().Format("20060102-150405.000000000")
	backupPath := filepath.Join(e.backupDir, "config.json.backup."+timestamp)

	if err := copyFile(e.configPath, backupPath); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (e *Engine) restore(backupPath string) error {
	return copyFile(backupPath, e.configPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func listenerName(in *Inbound) string {
	return fmt.Sprintf("%s:%d", in.Protocol, in.Port)
}

// SyncAdapter exposes the engine through the error-only interface the
// lifecycle manager dispatches its best-effort syncs to.
type SyncAdapter struct {
	Engine *Engine
}

func (s SyncAdapter) Reconcile(credentialID, label string, present bool) error {
	_, err := s.Engine.Reconcile(credentialID, label, present)
	return err
}
