package eatsml

import (
	"context"
	"io"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/artefact/eats/eats/storage"
	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
	"github.com/artefact/eats/logger"
)

// Exporter serializes store contents as EATSML.
type Exporter struct {
	store  *storage.Store
	logger *zap.SugaredLogger
}

// NewExporter creates an exporter reading from store.
func NewExporter(store *storage.Store, log *zap.SugaredLogger) *Exporter {
	return &Exporter{store: store, logger: logger.OrNop(log)}
}

// exportRun collects what one document needs before anything is written.
type exportRun struct {
	ctx   context.Context
	store *storage.Store

	items       map[int64]*types.Item
	required    map[types.Kind]map[int64]bool
	authorities map[int64]bool

	entities  []*exportedEntity
	stubs     []*types.Entity
	claimed   map[int64]bool // relationship assertions already placed under an entity
	preferred map[int64]int64
}

type exportedEntity struct {
	entity      *types.Entity
	identifiers []string
	assertions  []*types.Assertion
}

func (x *Exporter) newRun(ctx context.Context) *exportRun {
	return &exportRun{
		ctx:         ctx,
		store:       x.store,
		items:       make(map[int64]*types.Item),
		required:    make(map[types.Kind]map[int64]bool),
		authorities: make(map[int64]bool),
		claimed:     make(map[int64]bool),
		preferred:   make(map[int64]int64),
	}
}

// ExportEntities exports the given entities with every authority and
// infrastructure item their assertions use. Entities reached only through a
// relationship are written as empty related_entity stubs. With a user, each
// entity's name preferred under the user's defaults is marked
// user_preferred="true".
func (x *Exporter) ExportEntities(ctx context.Context, ids []int64, user *types.User) (*etree.Document, error) {
	start := time.Now()
	r := x.newRun(ctx)

	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	requested := make(map[int64]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}

	stubIDs := make(map[int64]bool)
	for _, id := range ids {
		ee, err := r.loadEntity(id)
		if err != nil {
			return nil, err
		}
		for _, a := range ee.assertions {
			if a.Kind != types.AssertionEntityRelationship {
				continue
			}
			for _, other := range []int64{a.EntityID, a.RangeEntityID} {
				if !requested[other] {
					stubIDs[other] = true
				}
			}
		}
		if user != nil {
			if err := r.markPreferred(ee, user); err != nil {
				return nil, err
			}
		}
	}

	for _, id := range sortedIDs(stubIDs) {
		e, err := x.store.GetEntity(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "load related entity %d", id)
		}
		r.stubs = append(r.stubs, e)
	}

	if err := r.requireLanguageOrders(); err != nil {
		return nil, err
	}
	doc, err := r.write()
	if err != nil {
		return nil, err
	}

	x.logger.Infow("Exported entities",
		"count", len(r.entities),
		"related", len(r.stubs),
		"authorities", len(r.authorities),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

// ExportFull exports every authority, infrastructure item and entity.
func (x *Exporter) ExportFull(ctx context.Context) (*etree.Document, error) {
	start := time.Now()
	r := x.newRun(ctx)

	if err := r.requireEverything(nil); err != nil {
		return nil, err
	}
	ids, err := x.store.ListEntityIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := r.loadEntity(id); err != nil {
			return nil, err
		}
	}
	doc, err := r.write()
	if err != nil {
		return nil, err
	}

	x.logger.Infow("Exported full backup",
		"count", len(ids),
		"authorities", len(r.authorities),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

// ExportInfrastructure exports authorities and infrastructure only. With a
// user, only the authorities the user may edit are written, along with the
// items those authorities permit.
func (x *Exporter) ExportInfrastructure(ctx context.Context, user *types.User) (*etree.Document, error) {
	r := x.newRun(ctx)
	if err := r.requireEverything(user); err != nil {
		return nil, err
	}
	if err := r.requireLanguageOrders(); err != nil {
		return nil, err
	}
	doc, err := r.write()
	if err != nil {
		return nil, err
	}
	x.logger.Debugw("Exported infrastructure", "authorities", len(r.authorities))
	return doc, nil
}

// WriteDocument writes doc indented, zstd-compressed when compress is set.
func WriteDocument(w io.Writer, doc *etree.Document, compress bool) error {
	doc.Indent(2)
	if !compress {
		_, err := doc.WriteTo(w)
		return errors.Wrap(err, "write EATSML document")
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, "create zstd writer")
	}
	if _, err := doc.WriteTo(zw); err != nil {
		zw.Close()
		return errors.Wrap(err, "write compressed EATSML document")
	}
	return errors.Wrap(zw.Close(), "flush compressed EATSML document")
}

func (r *exportRun) loadEntity(id int64) (*exportedEntity, error) {
	e, err := r.store.GetEntity(r.ctx, id)
	if err != nil {
		return nil, err
	}
	identifiers, err := r.store.SubjectIdentifiers(r.ctx, id)
	if err != nil {
		return nil, err
	}
	owned, err := r.store.EntityAssertions(r.ctx, id, "")
	if err != nil {
		return nil, err
	}
	rels, err := r.store.EntityRelationships(r.ctx, id)
	if err != nil {
		return nil, err
	}

	ee := &exportedEntity{entity: e, identifiers: identifiers}
	for _, a := range owned {
		if a.Kind != types.AssertionEntityRelationship {
			ee.assertions = append(ee.assertions, a)
		}
	}
	// A relationship is written once, under the first exported entity
	// taking part in it.
	for _, a := range rels {
		if r.claimed[a.ID] {
			continue
		}
		r.claimed[a.ID] = true
		ee.assertions = append(ee.assertions, a)
	}
	for _, a := range ee.assertions {
		r.collect(a)
	}
	r.entities = append(r.entities, ee)
	return ee, nil
}

func (r *exportRun) collect(a *types.Assertion) {
	r.authorities[a.AuthorityID] = true
	refs := a.ItemRefs()
	for i := range a.Dates {
		refs = append(refs, a.Dates[i].ItemRefs()...)
	}
	for _, ref := range refs {
		r.require(ref.Kind, ref.ID)
	}
}

func (r *exportRun) require(kind types.Kind, id int64) {
	if id == 0 {
		return
	}
	if r.required[kind] == nil {
		r.required[kind] = make(map[int64]bool)
	}
	r.required[kind][id] = true
}

// requireEverything marks every authority (or only the user's editable ones)
// and the items they permit as required. Without a user every item is
// required, permitted or not.
func (r *exportRun) requireEverything(user *types.User) error {
	authorities, err := r.store.ListAuthorities(r.ctx)
	if err != nil {
		return err
	}
	for _, a := range authorities {
		if user != nil && !user.CanEdit(a.ID) {
			continue
		}
		r.authorities[a.ID] = true
		if user == nil {
			continue
		}
		for _, kind := range types.Kinds {
			ids, err := r.store.AuthorityItemIDs(r.ctx, a.ID, kind)
			if err != nil {
				return err
			}
			for _, id := range ids {
				r.require(kind, id)
			}
		}
	}
	if user != nil {
		return nil
	}

	for _, kind := range types.Kinds {
		items, err := r.store.ListItems(r.ctx, kind)
		if err != nil {
			return err
		}
		for _, item := range items {
			r.items[item.ID] = item
			r.require(kind, item.ID)
		}
	}
	return nil
}

// requireLanguageOrders adds the name part types that required languages
// list in their assembly order.
func (r *exportRun) requireLanguageOrders() error {
	for id := range r.required[types.KindLanguage] {
		lang, err := r.item(id)
		if err != nil {
			return err
		}
		for _, partType := range lang.NamePartTypes {
			r.require(types.KindNamePartType, partType)
		}
	}
	return nil
}

func (r *exportRun) markPreferred(ee *exportedEntity, user *types.User) error {
	name, err := r.store.PreferredName(r.ctx, ee.entity.ID,
		user.DefaultAuthorityID, user.DefaultLanguageID, user.DefaultScriptID)
	if errors.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}
	r.preferred[ee.entity.ID] = name.ID
	return nil
}

func (r *exportRun) item(id int64) (*types.Item, error) {
	if item, ok := r.items[id]; ok {
		return item, nil
	}
	item, err := r.store.GetItem(r.ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "load infrastructure item %d", id)
	}
	r.items[id] = item
	return item, nil
}

// optionalItem is item for ids that may be unset.
func (r *exportRun) optionalItem(id int64) (*types.Item, error) {
	if id == 0 {
		return nil, nil
	}
	return r.item(id)
}

func (r *exportRun) write() (*etree.Document, error) {
	doc, root := newDocument()
	if err := r.writeAuthorities(root); err != nil {
		return nil, err
	}
	if err := r.writeInfrastructure(root); err != nil {
		return nil, err
	}
	if len(r.entities)+len(r.stubs) == 0 {
		return doc, nil
	}

	entities := root.CreateElement(elEntities)
	for _, ee := range r.entities {
		if err := r.writeEntity(entities, ee); err != nil {
			return nil, err
		}
	}
	for _, e := range r.stubs {
		el := entities.CreateElement(elEntity)
		writeIdentity(el, elEntity, e.ID)
		el.CreateAttr(attrURL, e.URL)
		el.CreateAttr(attrRelatedEntity, "true")
	}
	return doc, nil
}

func (r *exportRun) writeAuthorities(root *etree.Element) error {
	var authorities []*types.Authority
	for id := range r.authorities {
		a, err := r.store.GetAuthority(r.ctx, id)
		if err != nil {
			return errors.Wrapf(err, "load authority %d", id)
		}
		authorities = append(authorities, a)
	}
	if len(authorities) == 0 {
		return nil
	}
	sort.Slice(authorities, func(i, j int) bool {
		if authorities[i].Name != authorities[j].Name {
			return authorities[i].Name < authorities[j].Name
		}
		return authorities[i].ID < authorities[j].ID
	})

	parent := root.CreateElement(elAuthorities)
	for _, a := range authorities {
		el := parent.CreateElement(elAuthority)
		writeIdentity(el, elAuthority, a.ID)
		el.CreateElement(elName).SetText(a.Name)

		// Only the permitted items this document carries are listed.
		for _, kind := range types.Kinds {
			ids, err := r.store.AuthorityItemIDs(r.ctx, a.ID, kind)
			if err != nil {
				return err
			}
			var listed []int64
			for _, id := range ids {
				if r.required[kind][id] {
					listed = append(listed, id)
				}
			}
			if len(listed) == 0 {
				continue
			}
			slices.Sort(listed)
			c := el.CreateElement(kind.Plural())
			for _, id := range listed {
				c.CreateElement(string(kind)).CreateAttr(attrRef, xmlID(string(kind), id))
			}
		}
	}
	return nil
}

func (r *exportRun) writeInfrastructure(root *etree.Element) error {
	for _, kind := range types.Kinds {
		var items []*types.Item
		for id := range r.required[kind] {
			item, err := r.item(id)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		if len(items) == 0 {
			continue
		}
		sort.Slice(items, func(i, j int) bool {
			a, b := items[i], items[j]
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			if a.ReverseName != b.ReverseName {
				return a.ReverseName < b.ReverseName
			}
			return a.ID < b.ID
		})

		parent := root.CreateElement(kind.Plural())
		for _, item := range items {
			writeItem(parent, item)
		}
	}
	return nil
}

func writeItem(parent *etree.Element, item *types.Item) {
	kind := string(item.Kind)
	el := parent.CreateElement(kind)
	writeIdentity(el, kind, item.ID)
	el.CreateElement(elName).SetText(item.Name)

	switch item.Kind {
	case types.KindEntityRelationshipType:
		el.CreateElement(elReverseName).SetText(item.ReverseName)
	case types.KindLanguage:
		if item.Code != "" {
			el.CreateElement(elCode).SetText(item.Code)
		}
		if len(item.NamePartTypes) > 0 {
			order := el.CreateElement(types.KindNamePartType.Plural())
			for _, id := range item.NamePartTypes {
				order.CreateElement(string(types.KindNamePartType)).
					CreateAttr(attrRef, xmlID(string(types.KindNamePartType), id))
			}
		}
	case types.KindScript:
		el.CreateAttr(attrSeparator, item.Separator)
		if item.Code != "" {
			el.CreateElement(elCode).SetText(item.Code)
		}
	}
}

func writeIdentity(el *etree.Element, kind string, id int64) {
	el.CreateAttr(attrXMLID, xmlID(kind, id))
	el.CreateAttr(attrEATSID, strconv.FormatInt(id, 10))
}

func (r *exportRun) writeEntity(parent *etree.Element, ee *exportedEntity) error {
	el := parent.CreateElement(elEntity)
	writeIdentity(el, elEntity, ee.entity.ID)
	el.CreateAttr(attrURL, ee.entity.URL)

	if len(ee.identifiers) > 0 {
		ids := el.CreateElement(elIdentifiers)
		for _, url := range ee.identifiers {
			ids.CreateElement(elIdentifier).SetText(url)
		}
	}

	for _, c := range assertionContainers {
		var group *etree.Element
		for _, a := range ee.assertions {
			if a.Kind != c.kind {
				continue
			}
			if group == nil {
				group = el.CreateElement(c.container)
			}
			if err := r.writeAssertion(group.CreateElement(c.element), a, r.preferred[ee.entity.ID] == a.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *exportRun) writeAssertion(el *etree.Element, a *types.Assertion, userPreferred bool) error {
	el.CreateAttr(attrEATSID, strconv.FormatInt(a.ID, 10))
	el.CreateAttr(attrAuthority, xmlID(elAuthority, a.AuthorityID))
	el.CreateAttr(attrIsPreferred, formatBool(a.IsPreferred))
	el.CreateAttr(attrCertainty, string(a.Certainty.OrFull()))

	switch a.Kind {
	case types.AssertionEntityType:
		el.CreateAttr(attrEntityType, xmlID(string(types.KindEntityType), a.EntityTypeID))
	case types.AssertionName:
		if userPreferred {
			el.CreateAttr(attrUserPreferred, "true")
		}
		if err := r.writeName(el, a.Name); err != nil {
			return err
		}
	case types.AssertionEntityRelationship:
		el.CreateAttr(attrRelType, xmlID(string(types.KindEntityRelationshipType), a.RelationshipTypeID))
		el.CreateAttr(attrDomainEntity, xmlID(elEntity, a.EntityID))
		el.CreateAttr(attrRangeEntity, xmlID(elEntity, a.RangeEntityID))
	case types.AssertionNote:
		el.CreateAttr(attrIsInternal, formatBool(a.IsInternal))
		el.CreateElement(elText).SetText(a.Note)
	case types.AssertionSubjectIdentifier:
		el.CreateAttr(attrURL, a.URL)
	case types.AssertionExistence:
	}

	if len(a.Dates) > 0 {
		dates := el.CreateElement(elDates)
		for i := range a.Dates {
			writeDate(dates, &a.Dates[i])
		}
	}
	if len(a.Notes) > 0 {
		notes := el.CreateElement(elNotes)
		for _, n := range a.Notes {
			note := notes.CreateElement(elNote)
			note.CreateAttr(attrIsInternal, formatBool(n.IsInternal))
			note.SetText(n.Text)
		}
	}
	return nil
}

func (r *exportRun) writeName(el *etree.Element, n *types.Name) error {
	language, err := r.optionalItem(n.LanguageID)
	if err != nil {
		return err
	}
	script, err := r.optionalItem(n.ScriptID)
	if err != nil {
		return err
	}

	el.CreateAttr(attrNameType, xmlID(string(types.KindNameType), n.NameTypeID))
	writeOptionalRef(el, attrLanguage, types.KindLanguage, n.LanguageID)
	writeOptionalRef(el, attrScript, types.KindScript, n.ScriptID)
	el.CreateElement(elAssembledForm).SetText(types.AssembledName(n, language, script))
	el.CreateElement(elDisplayForm).SetText(n.DisplayForm)

	if len(n.Parts) == 0 {
		return nil
	}
	var order []int64
	if language != nil {
		order = language.NamePartTypes
	}
	parts := el.CreateElement(elNameParts)
	for _, group := range n.OrderedParts(order) {
		for _, p := range group {
			part := parts.CreateElement(elNamePart)
			part.CreateAttr(attrNamePartType, xmlID(string(types.KindNamePartType), p.NamePartTypeID))
			writeOptionalRef(part, attrLanguage, types.KindLanguage, p.LanguageID)
			writeOptionalRef(part, attrScript, types.KindScript, p.ScriptID)
			part.CreateAttr(attrOrder, strconv.Itoa(p.Order))
			part.SetText(p.DisplayForm)
		}
	}
	return nil
}

func writeDate(parent *etree.Element, d *types.Date) {
	el := parent.CreateElement(elDate)
	el.CreateAttr(attrEATSID, strconv.FormatInt(d.ID, 10))
	el.CreateAttr(attrDatePeriod, xmlID(string(types.KindDatePeriod), d.PeriodID))
	el.CreateElement(elAssembledForm).SetText(d.AssembledForm())

	if len(d.Parts) == 0 {
		return
	}
	parts := el.CreateElement(elDateParts)
	for _, slot := range types.Slots {
		p, ok := d.Part(slot)
		if !ok {
			continue
		}
		part := parts.CreateElement(elDatePart)
		part.CreateAttr(attrType, string(slot))
		writeOptionalRef(part, attrCalendar, types.KindCalendar, p.CalendarID)
		writeOptionalRef(part, attrDateType, types.KindDateType, p.DateTypeID)
		part.CreateAttr(attrCertainty, string(p.Certainty.OrFull()))
		part.CreateElement(elRaw).SetText(p.Raw)
		if p.Normalised != "" {
			part.CreateElement(elNormalised).SetText(p.Normalised)
		}
	}
}

func writeOptionalRef(el *etree.Element, attr string, kind types.Kind, id int64) {
	if id != 0 {
		el.CreateAttr(attr, xmlID(string(kind), id))
	}
}

func sortedIDs(set map[int64]bool) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
