// Package seed loads infrastructure vocabularies from YAML and applies them
// to a store.
//
// A vocabulary file lists items by kind, authorities with the items they
// permit, and users with the authorities they may edit:
//
//	calendars: [Gregorian, Julian]
//	name_part_types: [given, family]
//	entity_relationship_types:
//	  - name: is parent of
//	    reverse: is child of
//	languages:
//	  - name: English
//	    code: en
//	    name_part_types: [given, family]
//	scripts:
//	  - name: Latin
//	    code: Latn
//	    separator: " "
//	authorities:
//	  - name: Dictionary of New Zealand Biography
//	    permit:
//	      calendars: [Gregorian]
//	      languages: ["*"]
//	users:
//	  - username: jamie
//	    editable: [Dictionary of New Zealand Biography]
//	    default_authority: Dictionary of New Zealand Biography
//	    default_language: English
package seed

import (
	"context"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artefact/eats/eats/storage"
	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
	"github.com/artefact/eats/logger"
)

// All, in a permit list, stands for every item of the kind.
const All = "*"

// Vocabulary is the content of a seed file.
type Vocabulary struct {
	Calendars         []string           `yaml:"calendars"`
	DatePeriods       []string           `yaml:"date_periods"`
	DateTypes         []string           `yaml:"date_types"`
	EntityTypes       []string           `yaml:"entity_types"`
	NameTypes         []string           `yaml:"name_types"`
	NamePartTypes     []string           `yaml:"name_part_types"`
	RelationshipTypes []RelationshipType `yaml:"entity_relationship_types"`
	Languages         []Language         `yaml:"languages"`
	Scripts           []Script           `yaml:"scripts"`
	Authorities       []Authority        `yaml:"authorities"`
	Users             []User             `yaml:"users"`
}

// RelationshipType is an entity relationship type and its reverse reading.
type RelationshipType struct {
	Name    string `yaml:"name"`
	Reverse string `yaml:"reverse"`
}

// Language is a language and the order its name parts assemble in.
type Language struct {
	Name          string   `yaml:"name"`
	Code          string   `yaml:"code"`
	NamePartTypes []string `yaml:"name_part_types"`
}

// Script is a writing system. A nil Separator means the default single space.
type Script struct {
	Name      string  `yaml:"name"`
	Code      string  `yaml:"code"`
	Separator *string `yaml:"separator"`
}

// Authority names the items an authority permits, keyed by plural kind
// (calendars, languages, ...). Relationship types are named by their
// forward name.
type Authority struct {
	Name   string              `yaml:"name"`
	Permit map[string][]string `yaml:"permit"`
}

// User is an editor and their defaults, all named rather than numbered.
type User struct {
	Username         string   `yaml:"username"`
	Editable         []string `yaml:"editable"`
	DefaultAuthority string   `yaml:"default_authority"`
	DefaultLanguage  string   `yaml:"default_language"`
	DefaultScript    string   `yaml:"default_script"`
}

// Result counts what Apply created. Objects that already existed are not
// counted.
type Result struct {
	Items       int
	Authorities int
	Users       int
}

// Load decodes and checks a vocabulary. Unknown keys are errors.
func Load(r io.Reader) (*Vocabulary, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var v Vocabulary
	if err := dec.Decode(&v); err != nil {
		if err == io.EOF {
			return &v, nil
		}
		return nil, errors.Wrap(err, "failed to parse seed YAML")
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

func kindByPlural(plural string) (types.Kind, bool) {
	for _, k := range types.Kinds {
		if k.Plural() == plural {
			return k, true
		}
	}
	return "", false
}

func (v *Vocabulary) validate() error {
	for _, rt := range v.RelationshipTypes {
		if strings.TrimSpace(rt.Name) == "" {
			return errors.NewValidationErrorf("entity_relationship_types", "relationship type without a name")
		}
	}
	for _, a := range v.Authorities {
		if strings.TrimSpace(a.Name) == "" {
			return errors.NewValidationErrorf("authorities", "authority without a name")
		}
		for plural := range a.Permit {
			if _, ok := kindByPlural(plural); !ok {
				return errors.WithHint(
					errors.NewValidationErrorf("permit", "authority %q permits unknown kind %q", a.Name, plural),
					"permit keys are plural kind names such as calendars or name_part_types")
			}
		}
	}
	for _, u := range v.Users {
		if strings.TrimSpace(u.Username) == "" {
			return errors.NewValidationErrorf("users", "user without a username")
		}
	}
	return nil
}

// Apply creates the vocabulary's missing items, authorities and users, and
// replaces the permitted sets of every listed authority and the editable
// authorities and defaults of every listed user. Items are matched by name,
// so applying the same vocabulary twice changes nothing. It runs in one
// transaction.
func Apply(ctx context.Context, store *storage.Store, v *Vocabulary) (*Result, error) {
	start := time.Now()
	log := logger.LoggerFromContext(ctx, logger.ComponentLogger("seed"))

	var result Result
	err := store.WithTx(ctx, func(tx *storage.Store) error {
		a := &applier{ctx: ctx, store: tx, result: &result}
		return a.apply(v)
	})
	if err != nil {
		return nil, err
	}
	log.Infow("Applied seed vocabulary",
		"items", result.Items,
		"authorities", result.Authorities,
		"users", result.Users,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return &result, nil
}

type applier struct {
	ctx    context.Context
	store  *storage.Store
	result *Result
}

func (a *applier) apply(v *Vocabulary) error {
	plain := []struct {
		kind  types.Kind
		names []string
	}{
		{types.KindCalendar, v.Calendars},
		{types.KindDatePeriod, v.DatePeriods},
		{types.KindDateType, v.DateTypes},
		{types.KindEntityType, v.EntityTypes},
		{types.KindNameType, v.NameTypes},
		{types.KindNamePartType, v.NamePartTypes},
	}
	for _, p := range plain {
		for _, name := range p.names {
			if _, err := a.ensureItem(p.kind, name, storage.ItemOptions{}); err != nil {
				return err
			}
		}
	}
	for _, rt := range v.RelationshipTypes {
		if _, err := a.ensureItem(types.KindEntityRelationshipType, rt.Name, storage.ItemOptions{ReverseName: rt.Reverse}); err != nil {
			return err
		}
	}

	for _, lang := range v.Languages {
		order, err := a.itemIDs(types.KindNamePartType, lang.NamePartTypes)
		if err != nil {
			return errors.Wrapf(err, "language %q", lang.Name)
		}
		item, err := a.ensureItem(types.KindLanguage, lang.Name, storage.ItemOptions{Code: lang.Code, NamePartTypes: order})
		if err != nil {
			return err
		}
		if err := a.store.SetLanguageNamePartTypes(a.ctx, item.ID, order); err != nil {
			return err
		}
	}

	for _, script := range v.Scripts {
		separator := types.DefaultSeparator
		if script.Separator != nil {
			separator = *script.Separator
		}
		item, err := a.ensureItem(types.KindScript, script.Name, storage.ItemOptions{Code: script.Code, Separator: separator})
		if err != nil {
			return err
		}
		if item.Separator != separator {
			if err := a.store.UpdateScriptSeparator(a.ctx, item.ID, separator); err != nil {
				return err
			}
		}
	}

	for _, auth := range v.Authorities {
		if err := a.applyAuthority(auth); err != nil {
			return err
		}
	}
	for _, u := range v.Users {
		if err := a.applyUser(u); err != nil {
			return err
		}
	}
	return nil
}

// ensureItem returns the item of kind called name, creating it if needed.
func (a *applier) ensureItem(kind types.Kind, name string, opts storage.ItemOptions) (*types.Item, error) {
	name = strings.TrimSpace(name)
	item, err := a.store.FindItem(a.ctx, kind, name, opts.ReverseName)
	if err == nil {
		return item, nil
	}
	if !errors.IsNotFoundError(err) {
		return nil, err
	}
	item, err = a.store.CreateItem(a.ctx, kind, name, opts)
	if err != nil {
		return nil, err
	}
	a.result.Items++
	return item, nil
}

// itemIDs resolves names of kind to ids. All expands to every item of the
// kind.
func (a *applier) itemIDs(kind types.Kind, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	items, err := a.store.ListItems(a.ctx, kind)
	if err != nil {
		return nil, err
	}
	byName := make(map[string][]int64, len(items))
	for _, item := range items {
		byName[item.Name] = append(byName[item.Name], item.ID)
	}

	var ids []int64
	for _, name := range names {
		if name == All {
			ids = ids[:0]
			for _, item := range items {
				ids = append(ids, item.ID)
			}
			return ids, nil
		}
		matches := byName[strings.TrimSpace(name)]
		switch len(matches) {
		case 0:
			return nil, errors.NewNotFoundError("%s %q", kind, name)
		case 1:
			ids = append(ids, matches[0])
		default:
			return nil, errors.Newf("%s %q is ambiguous", kind, name)
		}
	}
	return ids, nil
}

func (a *applier) applyAuthority(auth Authority) error {
	authority, err := a.store.FindAuthority(a.ctx, strings.TrimSpace(auth.Name))
	if errors.IsNotFoundError(err) {
		authority, err = a.store.CreateAuthority(a.ctx, auth.Name)
		if err == nil {
			a.result.Authorities++
		}
	}
	if err != nil {
		return err
	}

	for plural, names := range auth.Permit {
		kind, _ := kindByPlural(plural)
		ids, err := a.itemIDs(kind, names)
		if err != nil {
			return errors.Wrapf(err, "authority %q", auth.Name)
		}
		if err := a.store.SetAuthorityItems(a.ctx, authority.ID, kind, ids); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) applyUser(u User) error {
	user, err := a.store.GetUserByName(a.ctx, strings.TrimSpace(u.Username))
	if errors.IsNotFoundError(err) {
		user, err = a.store.CreateUser(a.ctx, u.Username)
		if err == nil {
			a.result.Users++
		}
	}
	if err != nil {
		return err
	}

	editable := make([]int64, 0, len(u.Editable))
	for _, name := range u.Editable {
		authority, err := a.store.FindAuthority(a.ctx, name)
		if err != nil {
			return errors.Wrapf(err, "user %q", u.Username)
		}
		editable = append(editable, authority.ID)
	}
	if err := a.store.SetUserEditableAuthorities(a.ctx, user.ID, editable); err != nil {
		return err
	}

	var authorityID, languageID, scriptID int64
	if u.DefaultAuthority != "" {
		authority, err := a.store.FindAuthority(a.ctx, u.DefaultAuthority)
		if err != nil {
			return errors.Wrapf(err, "user %q", u.Username)
		}
		authorityID = authority.ID
	}
	if u.DefaultLanguage != "" {
		if languageID, err = a.oneID(types.KindLanguage, u.DefaultLanguage); err != nil {
			return errors.Wrapf(err, "user %q", u.Username)
		}
	}
	if u.DefaultScript != "" {
		if scriptID, err = a.oneID(types.KindScript, u.DefaultScript); err != nil {
			return errors.Wrapf(err, "user %q", u.Username)
		}
	}
	return a.store.SetUserDefaults(a.ctx, user.ID, authorityID, languageID, scriptID)
}

func (a *applier) oneID(kind types.Kind, name string) (int64, error) {
	ids, err := a.itemIDs(kind, []string{name})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}
