package segment

import (
	"bytes"
	"io"
	"sort"
	"strconv"
	"strings"

	"extlog/utils"

	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const (
	sectionPrefix = "segment-"
	orderField    = "@sections"
)

var exchangeIniOptions = ini.LoadOptions{
	IgnoreInlineComment: true,
	IgnoreContinuation:  true,
}

// Stanza is one section of an exchange: an ordered set of key/value pairs.
type Stanza struct {
	Section string
	keys    []string
	values  map[string]string
}

func newStanza(section string) *Stanza {
	return &Stanza{Section: section, values: make(map[string]string)}
}

func (st *Stanza) Set(key, value string) {
	if _, ok := st.values[key]; !ok {
		st.keys = append(st.keys, key)
	}
	st.values[key] = value
}

func (st *Stanza) SetUint64(key string, v uint64) {
	st.Set(key, strconv.FormatUint(v, 10))
}

func (st *Stanza) SetInt64(key string, v int64) {
	st.Set(key, strconv.FormatInt(v, 10))
}

func (st *Stanza) Get(key string) (string, bool) {
	v, ok := st.values[key]
	return v, ok
}

func (st *Stanza) Uint64(key string) (uint64, error) {
	v, ok := st.values[key]
	if !ok {
		return 0, errors.Errorf("[%s] missing %s", st.Section, key)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	return n, errors.Wrapf(err, "[%s] %s", st.Section, key)
}

func (st *Stanza) Int64(key string, def int64) (int64, error) {
	v, ok := st.values[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, errors.Wrapf(err, "[%s] %s", st.Section, key)
}

func (st *Stanza) Keys() []string {
	return st.keys
}

// SetName stores an escaped segment name, or nothing for an empty one.
func (st *Stanza) SetName(name string) {
	if name != "" {
		st.Set("name", utils.EscapeText("=", '\\', name))
	}
}

func (st *Stanza) Name() string {
	v, _ := st.Get("name")
	return utils.UnescapeText('\\', v)
}

// Exchange is the serialized description of a tree of segments. Each segment
// owns one [segment-<id>] stanza; other stanzas belong to the caller.
type Exchange struct {
	stanzas []*Stanza
	index   map[string]*Stanza
}

func NewExchange() *Exchange {
	return &Exchange{index: make(map[string]*Stanza)}
}

func SectionName(id uint64) string {
	return sectionPrefix + strconv.FormatUint(id, 10)
}

// Section returns the named stanza, creating it if needed.
func (ex *Exchange) Section(name string) *Stanza {
	if st, ok := ex.index[name]; ok {
		return st
	}
	st := newStanza(name)
	ex.stanzas = append(ex.stanzas, st)
	ex.index[name] = st
	return st
}

func (ex *Exchange) Lookup(name string) (*Stanza, bool) {
	st, ok := ex.index[name]
	return st, ok
}

// AddSegment opens the stanza of segment id. ok is false when the segment
// was already serialized, which happens for children shared by two parents.
func (ex *Exchange) AddSegment(id uint64, typ string) (st *Stanza, ok bool) {
	if _, exists := ex.index[SectionName(id)]; exists {
		return nil, false
	}
	st = ex.Section(SectionName(id))
	st.Set("type", typ)
	return st, true
}

func (ex *Exchange) Segment(id uint64) (*Stanza, bool) {
	return ex.Lookup(SectionName(id))
}

func (ex *Exchange) Stanzas() []*Stanza {
	return ex.stanzas
}

// WriteText writes the ini form.
func (ex *Exchange) WriteText(w io.Writer) error {
	cfg := ini.Empty(exchangeIniOptions)
	for _, st := range ex.stanzas {
		sec, err := cfg.NewSection(st.Section)
		if err != nil {
			return errors.Wrapf(err, "section %s", st.Section)
		}
		for _, k := range st.keys {
			if _, err := sec.NewKey(k, st.values[k]); err != nil {
				return errors.Wrapf(err, "[%s] %s", st.Section, k)
			}
		}
	}
	_, err := cfg.WriteTo(w)
	return errors.Wrap(err, "write exchange")
}

func (ex *Exchange) Text() (string, error) {
	var buf bytes.Buffer
	if err := ex.WriteText(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParseText reads the ini form.
func ParseText(data []byte) (*Exchange, error) {
	cfg, err := ini.LoadSources(exchangeIniOptions, data)
	if err != nil {
		return nil, errors.Wrap(err, "parse exchange")
	}
	ex := NewExchange()
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection && len(sec.Keys()) == 0 {
			continue
		}
		st := ex.Section(sec.Name())
		for _, k := range sec.Keys() {
			st.Set(k.Name(), k.Value())
		}
	}
	return ex, nil
}

// MarshalProto encodes the exchange as a google.protobuf.Struct with one
// nested struct per stanza.
func (ex *Exchange) MarshalProto() ([]byte, error) {
	root := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(ex.stanzas)+1)}
	order := &structpb.ListValue{}
	for _, st := range ex.stanzas {
		fields := make(map[string]*structpb.Value, len(st.keys))
		for _, k := range st.keys {
			fields[k] = stringValue(st.values[k])
		}
		root.Fields[st.Section] = &structpb.Value{
			Kind: &structpb.Value_StructValue{StructValue: &structpb.Struct{Fields: fields}},
		}
		order.Values = append(order.Values, stringValue(st.Section))
	}
	root.Fields[orderField] = &structpb.Value{Kind: &structpb.Value_ListValue{ListValue: order}}
	data, err := proto.Marshal(root)
	return data, errors.Wrap(err, "marshal exchange")
}

// UnmarshalProto decodes MarshalProto output. Keys inside a stanza come back
// sorted.
func UnmarshalProto(data []byte) (*Exchange, error) {
	root := &structpb.Struct{}
	if err := proto.Unmarshal(data, root); err != nil {
		return nil, errors.Wrap(err, "unmarshal exchange")
	}
	var sections []string
	if v, ok := root.Fields[orderField]; ok {
		for _, s := range v.GetListValue().GetValues() {
			sections = append(sections, s.GetStringValue())
		}
	} else {
		for name := range root.Fields {
			sections = append(sections, name)
		}
		sort.Strings(sections)
	}

	ex := NewExchange()
	for _, name := range sections {
		v, ok := root.Fields[name]
		if !ok || v.GetStructValue() == nil {
			return nil, errors.Errorf("exchange: stanza %q missing", name)
		}
		fields := v.GetStructValue().GetFields()
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		st := ex.Section(name)
		for _, k := range keys {
			st.Set(k, fields[k].GetStringValue())
		}
	}
	return ex, nil
}

// Marshal encodes the exchange in the named format.
func (ex *Exchange) Marshal(format string) ([]byte, error) {
	switch format {
	case utils.ExchangeFormatText:
		var buf bytes.Buffer
		err := ex.WriteText(&buf)
		return buf.Bytes(), err
	case utils.ExchangeFormatProto:
		return ex.MarshalProto()
	}
	return nil, errors.Errorf("unknown exchange format %q", format)
}

// Unmarshal decodes data written by Marshal in the same format.
func Unmarshal(format string, data []byte) (*Exchange, error) {
	switch format {
	case utils.ExchangeFormatText:
		return ParseText(data)
	case utils.ExchangeFormatProto:
		return UnmarshalProto(data)
	}
	return nil, errors.Errorf("unknown exchange format %q", format)
}

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}

// segmentIDs returns the ids of all segment stanzas, in order.
func (ex *Exchange) segmentIDs() []uint64 {
	var ids []uint64
	for _, st := range ex.stanzas {
		if !strings.HasPrefix(st.Section, sectionPrefix) {
			continue
		}
		if id, err := strconv.ParseUint(strings.TrimPrefix(st.Section, sectionPrefix), 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
