package zarr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"go.ngs.io/nexgddp-api/internal/dataset"
)

const (
	consolidatedKey = ".zmetadata"
	groupKey        = ".zgroup"
	attrsKey        = ".zattrs"
	arrayKey        = ".zarray"
)

// Group is an opened Zarr v2 group.
type Group struct {
	Attrs  dataset.Attrs
	arrays map[string]*Array
}

type consolidatedMetadata struct {
	Format   int                        `json:"zarr_consolidated_format"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// OpenGroup reads the metadata of the group stored under prefix. Consolidated
// metadata is used when present; otherwise the group is listed.
func OpenGroup(ctx context.Context, bucket *blob.Bucket, prefix string, observer Observer) (*Group, error) {
	prefix = strings.Trim(prefix, "/")
	docs, err := readConsolidated(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		if docs, err = readListed(ctx, bucket, prefix); err != nil {
			return nil, err
		}
	}

	g := &Group{Attrs: dataset.Attrs{}, arrays: make(map[string]*Array)}
	if raw, ok := docs[attrsKey]; ok {
		if err := decodeJSON(raw, &g.Attrs); err != nil {
			return nil, fmt.Errorf("group attributes: %w", err)
		}
	}
	for key, raw := range docs {
		name, ok := strings.CutSuffix(key, "/"+arrayKey)
		if !ok || strings.Contains(name, "/") {
			continue
		}
		var meta ArrayMetadata
		if err := decodeJSON(raw, &meta); err != nil {
			return nil, fmt.Errorf("array %s metadata: %w", name, err)
		}
		attrs := dataset.Attrs{}
		if rawAttrs, ok := docs[name+"/"+attrsKey]; ok {
			if err := decodeJSON(rawAttrs, &attrs); err != nil {
				return nil, fmt.Errorf("array %s attributes: %w", name, err)
			}
		}
		a, err := newArray(bucket, joinKey(prefix, name), name, meta, attrs, observer)
		if err != nil {
			return nil, err
		}
		g.arrays[name] = a
	}
	return g, nil
}

func readConsolidated(ctx context.Context, bucket *blob.Bucket, prefix string) (map[string]json.RawMessage, error) {
	raw, err := bucket.ReadAll(ctx, joinKey(prefix, consolidatedKey))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", consolidatedKey, err)
	}
	var doc consolidatedMetadata
	if err := decodeJSON(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", consolidatedKey, err)
	}
	if doc.Format != 1 {
		return nil, fmt.Errorf("unsupported zarr_consolidated_format %d", doc.Format)
	}
	if _, ok := doc.Metadata[groupKey]; !ok {
		return nil, fmt.Errorf("%s describes no group", consolidatedKey)
	}
	return doc.Metadata, nil
}

func readListed(ctx context.Context, bucket *blob.Bucket, prefix string) (map[string]json.RawMessage, error) {
	docs := make(map[string]json.RawMessage)
	raw, err := bucket.ReadAll(ctx, joinKey(prefix, groupKey))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("no zarr group at %q", prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", groupKey, err)
	}
	docs[groupKey] = raw
	if err := readOptional(ctx, bucket, joinKey(prefix, attrsKey), attrsKey, docs); err != nil {
		return nil, err
	}

	dir := joinKey(prefix, "")
	it := bucket.List(&blob.ListOptions{Prefix: dir, Delimiter: "/"})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", dir, err)
		}
		if !obj.IsDir {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, dir), "/")
		if name == "" {
			continue
		}
		if err := readOptional(ctx, bucket, joinKey(prefix, name+"/"+arrayKey), name+"/"+arrayKey, docs); err != nil {
			return nil, err
		}
		if _, ok := docs[name+"/"+arrayKey]; !ok {
			continue
		}
		if err := readOptional(ctx, bucket, joinKey(prefix, name+"/"+attrsKey), name+"/"+attrsKey, docs); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func readOptional(ctx context.Context, bucket *blob.Bucket, key, doc string, docs map[string]json.RawMessage) error {
	raw, err := bucket.ReadAll(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	docs[doc] = raw
	return nil
}

// Array returns the array name.
func (g *Group) Array(name string) (*Array, bool) {
	a, ok := g.arrays[name]
	return a, ok
}

// ArrayNames returns the array names sorted.
func (g *Group) ArrayNames() []string {
	names := make([]string, 0, len(g.arrays))
	for n := range g.arrays {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dataset builds a lazy dataset from the group. 1-D arrays named after their
// dimension become coordinates and are read eagerly; other numeric arrays
// become lazy data variables. Auxiliary coordinates and non-numeric data
// arrays are not carried.
func (g *Group) Dataset(ctx context.Context) (*dataset.Dataset, error) {
	ds := dataset.New()
	ds.Attrs = g.Attrs.Clone()
	delete(ds.Attrs, "coordinates")

	aux := make(map[string]bool)
	markCoordinates(g.Attrs, aux)
	for _, a := range g.arrays {
		markCoordinates(a.Attrs, aux)
	}

	names := g.ArrayNames()
	for _, name := range names {
		a := g.arrays[name]
		if len(a.Dims) != 1 || a.Dims[0] != name {
			continue
		}
		var c *dataset.Coord
		if a.Numeric() {
			vals, err := a.Read(ctx, [][]int{dataset.Arange(0, a.meta.Shape[0])})
			if err != nil {
				return nil, fmt.Errorf("coordinate %s: %w", name, err)
			}
			c = dataset.NumericCoord(name, vals, a.Attrs.Clone())
		} else {
			labels, err := a.ReadStrings(ctx)
			if err != nil {
				return nil, fmt.Errorf("coordinate %s: %w", name, err)
			}
			c = dataset.LabelCoord(name, labels, a.Attrs.Clone())
		}
		if err := ds.AddCoord(c); err != nil {
			return nil, err
		}
	}
	for _, name := range names {
		a := g.arrays[name]
		if _, isCoord := ds.Coord(name); isCoord || aux[name] || !a.Numeric() || len(a.Dims) == 0 {
			continue
		}
		attrs := a.Attrs.Clone()
		delete(attrs, "coordinates")
		v, err := dataset.NewVariable(name, a.Dims, a, attrs)
		if err != nil {
			return nil, err
		}
		if err := ds.AddVariable(v); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func markCoordinates(attrs dataset.Attrs, aux map[string]bool) {
	s, ok := attrs.String("coordinates")
	if !ok {
		return
	}
	for _, n := range strings.Fields(s) {
		aux[n] = true
	}
}

func joinKey(prefix, rest string) string {
	if prefix == "" {
		return rest
	}
	return prefix + "/" + rest
}

// decodeJSON decodes Zarr metadata, accepting the bare NaN and Infinity
// tokens Python writers emit.
func decodeJSON(raw []byte, v any) error {
	return json.Unmarshal(quoteNonFinite(raw), v)
}

// quoteNonFinite rewrites bare NaN, Infinity and -Infinity tokens outside
// strings into their quoted forms.
func quoteNonFinite(raw []byte) []byte {
	if !bytes.Contains(raw, []byte("NaN")) && !bytes.Contains(raw, []byte("Infinity")) {
		return raw
	}
	var out bytes.Buffer
	inString, escaped := false, false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		matched := false
		for _, tok := range []string{"-Infinity", "Infinity", "NaN"} {
			if bytes.HasPrefix(raw[i:], []byte(tok)) {
				out.WriteString(`"` + tok + `"`)
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}
