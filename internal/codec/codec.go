// Package codec turns a node store into the stored document text and back.
//
// The current format is "v2." followed by base64url(zstd(JSON)). Documents
// saved by the first editor release are either base64(gzip(JSON)) or the
// bare JSON, keyed by node id in the shape the page builder wrote. Every
// format that was ever written stays decodable.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"carta/api/internal/blocks"
	"carta/api/internal/document"
)

// CurrentVersion is the version Encode writes.
const CurrentVersion = 2

const (
	versionPrefix  = "v2."
	defaultMaxSize = 16 << 20
)

var (
	ErrCorruptDocument   = errors.New("corrupt document")
	ErrDanglingReference = errors.New("dangling child reference")
)

// UnknownBlockTypeError names every node whose type is not registered.
type UnknownBlockTypeError struct {
	IDs   []document.NodeID
	Types []blocks.Type
}

func (e *UnknownBlockTypeError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = string(id)
	}
	return fmt.Sprintf("%v: nodes %s", blocks.ErrUnknownBlockType, strings.Join(ids, ", "))
}

func (e *UnknownBlockTypeError) Unwrap() error {
	return blocks.ErrUnknownBlockType
}

type DanglingReferenceError struct {
	Parent document.NodeID
	Child  document.NodeID
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%v: %s lists %s", ErrDanglingReference, e.Parent, e.Child)
}

func (e *DanglingReferenceError) Unwrap() error {
	return ErrDanglingReference
}

type Option func(*Codec)

// WithStoreOptions passes options to every store Decode builds.
func WithStoreOptions(opts ...document.Option) Option {
	return func(c *Codec) {
		c.storeOpts = append(c.storeOpts, opts...)
	}
}

// WithMaxDecodedSize bounds the decompressed size of a payload.
func WithMaxDecodedSize(n int64) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// Codec is safe for concurrent use.
type Codec struct {
	registry  *blocks.Registry
	storeOpts []document.Option
	maxSize   int64
}

func New(registry *blocks.Registry, opts ...Option) *Codec {
	c := &Codec{registry: registry, maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type record struct {
	Type     blocks.Type       `json:"type"`
	Props    blocks.Props      `json:"props"`
	Children []document.NodeID `json:"children"`
	Parent   document.NodeID   `json:"parent,omitempty"`
	Custom   blocks.Props      `json:"custom,omitempty"`
}

type envelope struct {
	Version int                        `json:"v"`
	Nodes   map[document.NodeID]record `json:"nodes"`
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdErr     error
)

func encoder() (*zstd.Encoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEncoder, zstdErr
}

// Encode snapshots the store. Equal stores encode to identical text.
func (c *Codec) Encode(s *document.Store) (string, error) {
	env := envelope{Version: CurrentVersion, Nodes: make(map[document.NodeID]record, s.Len())}
	for id, n := range s.Nodes() {
		env.Nodes[id] = record{
			Type:     n.Type,
			Props:    n.Props,
			Children: n.Children,
			Parent:   n.Parent,
			Custom:   n.Custom,
		}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	enc, err := encoder()
	if err != nil {
		return "", fmt.Errorf("zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	return versionPrefix + base64.RawURLEncoding.EncodeToString(compressed), nil
}

// Decode rebuilds a store from any format ever written.
func (c *Codec) Decode(payload string) (*document.Store, error) {
	p, err := c.parse(payload)
	if err != nil {
		return nil, err
	}
	return c.build(p)
}

// Format names the encoding of a payload.
type Format string

const (
	FormatCurrent    Format = "v2"
	FormatLegacyGzip Format = "legacy-gzip"
	FormatLegacyJSON Format = "legacy-json"
)

type parsed struct {
	format  Format
	version int
	records map[document.NodeID]record
}

func (c *Codec) parse(payload string) (parsed, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return parsed{}, fmt.Errorf("%w: empty payload", ErrCorruptDocument)
	}

	if rest, ok := strings.CutPrefix(payload, versionPrefix); ok {
		compressed, err := base64.RawURLEncoding.DecodeString(rest)
		if err != nil {
			return parsed{}, fmt.Errorf("%w: base64: %v", ErrCorruptDocument, err)
		}
		raw, err := c.unzstd(compressed)
		if err != nil {
			return parsed{}, err
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return parsed{}, fmt.Errorf("%w: json: %v", ErrCorruptDocument, err)
		}
		if env.Version != CurrentVersion {
			return parsed{}, fmt.Errorf("%w: envelope version %d under prefix %q", ErrCorruptDocument, env.Version, versionPrefix)
		}
		return parsed{format: FormatCurrent, version: env.Version, records: env.Nodes}, nil
	}

	if strings.HasPrefix(payload, "{") {
		records, err := parseLegacy([]byte(payload))
		if err != nil {
			return parsed{}, err
		}
		return parsed{format: FormatLegacyJSON, version: 1, records: records}, nil
	}

	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		compressed, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return parsed{}, fmt.Errorf("%w: unrecognized format", ErrCorruptDocument)
		}
	}
	raw, err := c.gunzip(compressed)
	if err != nil {
		return parsed{}, err
	}
	records, err := parseLegacy(raw)
	if err != nil {
		return parsed{}, err
	}
	return parsed{format: FormatLegacyGzip, version: 1, records: records}, nil
}

func (c *Codec) unzstd(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(uint64(c.maxSize)))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptDocument, err)
	}
	if int64(len(raw)) > c.maxSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrCorruptDocument, c.maxSize)
	}
	return raw, nil
}

func (c *Codec) gunzip(compressed []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrCorruptDocument, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrCorruptDocument, err)
	}
	if int64(len(raw)) > c.maxSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrCorruptDocument, c.maxSize)
	}
	return raw, nil
}

func (c *Codec) build(p parsed) (*document.Store, error) {
	if len(p.records) == 0 {
		return nil, fmt.Errorf("%w: no nodes", ErrCorruptDocument)
	}

	var unknown UnknownBlockTypeError
	seenTypes := make(map[blocks.Type]bool)
	for id, rec := range p.records {
		if c.registry.Has(rec.Type) {
			continue
		}
		unknown.IDs = append(unknown.IDs, id)
		if !seenTypes[rec.Type] {
			seenTypes[rec.Type] = true
			unknown.Types = append(unknown.Types, rec.Type)
		}
	}
	if len(unknown.IDs) > 0 {
		sortIDs(unknown.IDs)
		sortTypes(unknown.Types)
		return nil, &unknown
	}

	nodes := make(map[document.NodeID]*document.Node, len(p.records))
	for id, rec := range p.records {
		props := c.registry.Upgrade(rec.Type, p.version, CurrentVersion, rec.Props)
		props, err := blocks.Canonicalize(c.registry.WithDefaults(rec.Type, props))
		if err != nil {
			return nil, fmt.Errorf("%w: node %s props: %v", ErrCorruptDocument, id, err)
		}
		custom, err := blocks.Canonicalize(rec.Custom)
		if err != nil {
			return nil, fmt.Errorf("%w: node %s custom: %v", ErrCorruptDocument, id, err)
		}
		nodes[id] = &document.Node{
			ID:       id,
			Type:     rec.Type,
			Props:    props,
			Children: append([]document.NodeID(nil), rec.Children...),
			Custom:   custom,
		}
	}

	root, ok := nodes[document.RootID]
	if !ok {
		return nil, fmt.Errorf("%w: missing root", ErrCorruptDocument)
	}
	if root.Type != blocks.Container {
		return nil, fmt.Errorf("%w: root is %s, want %s", ErrCorruptDocument, root.Type, blocks.Container)
	}

	// Parent links come from the children lists only; a stored parent field
	// that disagrees is ignored.
	reached := make(map[document.NodeID]bool, len(nodes))
	var link func(id document.NodeID) error
	link = func(id document.NodeID) error {
		reached[id] = true
		for _, childID := range nodes[id].Children {
			child, ok := nodes[childID]
			if !ok {
				return &DanglingReferenceError{Parent: id, Child: childID}
			}
			if reached[childID] {
				return fmt.Errorf("%w: node %s listed twice or in a cycle", ErrCorruptDocument, childID)
			}
			child.Parent = id
			if err := link(childID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := link(document.RootID); err != nil {
		return nil, err
	}

	tree := make([]document.Node, 0, len(reached))
	for id := range reached {
		tree = append(tree, *nodes[id])
	}
	s, err := document.Restore(c.registry, tree, c.storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return s, nil
}

// Info describes a payload without building a store.
type Info struct {
	Format  Format `json:"format"`
	Version int    `json:"version"`
	Nodes   int    `json:"nodes"`
}

// Current reports whether the payload is already in the format Encode
// writes.
func (i Info) Current() bool {
	return i.Format == FormatCurrent
}

func (c *Codec) Inspect(payload string) (Info, error) {
	p, err := c.parse(payload)
	if err != nil {
		return Info{}, err
	}
	return Info{Format: p.format, Version: p.version, Nodes: len(p.records)}, nil
}

// FailureReason classifies a Decode error for metrics and logs.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, blocks.ErrUnknownBlockType):
		return "unknown_block_type"
	case errors.Is(err, ErrDanglingReference):
		return "dangling_reference"
	case errors.Is(err, ErrCorruptDocument):
		return "corrupt"
	default:
		return "other"
	}
}
