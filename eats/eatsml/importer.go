package eatsml

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/artefact/eats/eats/storage"
	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
	"github.com/artefact/eats/logger"
)

// zstdMagic opens every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Importer creates store objects from EATSML documents.
type Importer struct {
	store  *storage.Store
	logger *zap.SugaredLogger
}

// NewImporter creates an importer writing to store.
func NewImporter(store *storage.Store, log *zap.SugaredLogger) *Importer {
	return &Importer{store: store, logger: logger.OrNop(log)}
}

// ImportStats counts what an import created.
type ImportStats struct {
	Items       int
	Authorities int
	Entities    int
	Assertions  int
}

// ParseDocument reads an EATSML document, decompressing it first if it is
// zstd-compressed. It does not validate the document.
func ParseDocument(r io.Reader) (*etree.Document, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, _ := br.Peek(len(zstdMagic)); bytes.Equal(magic, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "open compressed EATSML document")
		}
		defer zr.Close()
		src = zr
	}

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(src); err != nil {
		return nil, errors.NewEATSMLError("", "malformed XML: %v", err)
	}
	if doc.Root() == nil {
		return nil, errors.NewEATSMLError("", "document has no root element")
	}
	return doc, nil
}

// Import creates every object doc describes without an eats_id, in one
// transaction. Objects that carry an eats_id must already exist and are
// never modified, except that new assertions may be added to an existing
// entity. With a user, new assertions must be under authorities the user
// may edit.
//
// It returns the pruned document (existing objects nothing new refers to
// removed) and an annotated copy of doc with every object's eats_id filled
// in. doc itself is not modified. On any error nothing is created.
func (im *Importer) Import(ctx context.Context, doc *etree.Document, user *types.User) (pruned, annotated *etree.Document, err error) {
	pruned, annotated, _, err = im.ImportWithStats(ctx, doc, user)
	return pruned, annotated, err
}

// ImportWithStats is Import that also reports what was created.
func (im *Importer) ImportWithStats(ctx context.Context, doc *etree.Document, user *types.User) (*etree.Document, *etree.Document, ImportStats, error) {
	if err := Validate(doc); err != nil {
		return nil, nil, ImportStats{}, err
	}
	start := time.Now()
	importID := uuid.NewString()
	ctx = logger.WithImportID(ctx, importID)
	log := logger.LoggerFromContext(ctx, im.logger)

	pruned := prune(doc)
	annotated := doc.Copy()

	var stats ImportStats
	err := im.store.WithTx(ctx, func(tx *storage.Store) error {
		run := &importRun{
			ctx:     ctx,
			store:   tx,
			user:    user,
			ids:     make(map[refKey]int64),
			created: make(map[int64]bool),
		}
		if err := run.apply(annotated.Root()); err != nil {
			return err
		}
		stats = run.stats
		return nil
	})
	if err != nil {
		log.Debugw("EATSML import rolled back", "error", err)
		return nil, nil, ImportStats{}, errors.Wrapf(err, "import %s", importID)
	}

	log.Infow("Imported EATSML",
		"items", stats.Items,
		"authorities", stats.Authorities,
		"entities", stats.Entities,
		"assertions", stats.Assertions,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return pruned, annotated, stats, nil
}

// StripIdentifiers returns a copy of doc describing every object as new:
// eats_id, entity urls and user_preferred marks are removed. Importing the
// result into an empty store recreates the exported content.
func StripIdentifiers(doc *etree.Document) *etree.Document {
	stripped := doc.Copy()
	var strip func(el *etree.Element)
	strip = func(el *etree.Element) {
		el.RemoveAttr(attrEATSID)
		el.RemoveAttr(attrUserPreferred)
		if el.Tag == elEntity {
			el.RemoveAttr(attrURL)
		}
		for _, child := range el.ChildElements() {
			strip(child)
		}
	}
	if root := stripped.Root(); root != nil {
		strip(root)
	}
	return stripped
}

// prune copies doc without the existing objects that nothing new refers
// to. New objects are always kept. An existing entity that receives new
// assertions is kept with only those assertions.
func prune(doc *etree.Document) *etree.Document {
	p := doc.Copy()
	root := p.Root()

	refs := make(map[refKey]bool)
	for _, section := range root.ChildElements() {
		for _, el := range section.ChildElements() {
			if !hasEATSID(el) {
				collectRefs(el, refs)
				continue
			}
			if el.Tag == elEntity {
				for _, a := range newAssertions(el) {
					collectRefs(a, refs)
				}
			}
		}
	}

	for _, section := range root.ChildElements() {
		for _, el := range section.ChildElements() {
			if !hasEATSID(el) {
				continue
			}
			referenced := refs[refKey{el.Tag, el.SelectAttrValue(attrXMLID, "")}]
			if el.Tag == elEntity {
				if referenced || len(newAssertions(el)) > 0 {
					dropExistingAssertions(el)
					continue
				}
			} else if referenced {
				dropRefLists(el)
				continue
			}
			section.RemoveChild(el)
		}
		if len(section.ChildElements()) == 0 {
			root.RemoveChild(section)
		}
	}
	return p
}

// dropRefLists removes the ref lists of a kept existing object. Import never
// changes an existing object's associations, and the items listed may have
// been pruned.
func dropRefLists(el *etree.Element) {
	for _, list := range el.ChildElements() {
		for _, item := range list.ChildElements() {
			if item.SelectAttr(attrRef) != nil {
				el.RemoveChild(list)
				break
			}
		}
	}
}

func hasEATSID(el *etree.Element) bool {
	return el.SelectAttr(attrEATSID) != nil
}

// newAssertions returns the assertion elements of entity without an eats_id.
func newAssertions(entity *etree.Element) []*etree.Element {
	var found []*etree.Element
	for _, c := range assertionContainers {
		group := entity.SelectElement(c.container)
		if group == nil {
			continue
		}
		for _, a := range group.SelectElements(c.element) {
			if !hasEATSID(a) {
				found = append(found, a)
			}
		}
	}
	return found
}

func dropExistingAssertions(entity *etree.Element) {
	for _, c := range assertionContainers {
		group := entity.SelectElement(c.container)
		if group == nil {
			continue
		}
		for _, a := range group.SelectElements(c.element) {
			if hasEATSID(a) {
				group.RemoveChild(a)
			}
		}
		if len(group.ChildElements()) == 0 {
			entity.RemoveChild(group)
		}
	}
}

// importRun is the state of one import inside its transaction.
type importRun struct {
	ctx   context.Context
	store *storage.Store
	user  *types.User
	ids   map[refKey]int64
	stats ImportStats

	// authorities created by this import; its user may assert under them
	created map[int64]bool
}

func (r *importRun) apply(root *etree.Element) error {
	for _, kind := range creationOrder {
		parent := root.SelectElement(kind.Plural())
		if parent == nil {
			continue
		}
		for _, el := range parent.SelectElements(string(kind)) {
			if err := r.importItem(kind, el); err != nil {
				return err
			}
		}
	}

	if parent := root.SelectElement(elAuthorities); parent != nil {
		for _, el := range parent.SelectElements(elAuthority) {
			if err := r.importAuthority(el); err != nil {
				return err
			}
		}
	}

	parent := root.SelectElement(elEntities)
	if parent == nil {
		return nil
	}
	entities := parent.SelectElements(elEntity)
	// Every entity is bound before any assertion is created, so
	// relationships may point forward in the document.
	for _, el := range entities {
		if err := r.importEntity(el); err != nil {
			return err
		}
	}
	for _, el := range entities {
		if err := r.importAssertions(el); err != nil {
			return err
		}
	}
	return nil
}

func (r *importRun) bind(kind string, el *etree.Element, id int64) {
	r.ids[refKey{kind, el.SelectAttrValue(attrXMLID, "")}] = id
	el.CreateAttr(attrEATSID, strconv.FormatInt(id, 10))
}

func (r *importRun) resolve(kind, ref string) (int64, error) {
	id, ok := r.ids[refKey{kind, ref}]
	if !ok {
		return 0, errors.NewEATSMLError(kind, "unresolved reference %q", ref)
	}
	return id, nil
}

// resolveAttr resolves the reference held in attr; an absent attribute
// resolves to zero.
func (r *importRun) resolveAttr(el *etree.Element, attr string) (int64, error) {
	ref := el.SelectAttrValue(attr, "")
	if ref == "" {
		return 0, nil
	}
	return r.resolve(refAttrKinds[attr], ref)
}

func (r *importRun) resolveRefList(kind types.Kind, parent *etree.Element) ([]int64, error) {
	if parent == nil {
		return nil, nil
	}
	var ids []int64
	for _, el := range parent.SelectElements(string(kind)) {
		id, err := r.resolve(string(kind), el.SelectAttrValue(attrRef, ""))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *importRun) importItem(kind types.Kind, el *etree.Element) error {
	id, existing, err := eatsID(el)
	if err != nil {
		return errors.NewEATSMLError(el.Tag, "%v", err)
	}
	if existing {
		if _, err := r.store.GetItemOfKind(r.ctx, kind, id); err != nil {
			return errors.NewEATSMLError(el.Tag, "eats_id %d: %v", id, err)
		}
		r.bind(string(kind), el, id)
		return nil
	}

	var opts storage.ItemOptions
	switch kind {
	case types.KindEntityRelationshipType:
		opts.ReverseName = childText(el, elReverseName)
	case types.KindLanguage:
		opts.Code = childText(el, elCode)
		if opts.NamePartTypes, err = r.resolveRefList(types.KindNamePartType, el.SelectElement(types.KindNamePartType.Plural())); err != nil {
			return err
		}
	case types.KindScript:
		opts.Code = childText(el, elCode)
		opts.Separator = el.SelectAttrValue(attrSeparator, types.DefaultSeparator)
	}

	item, err := r.store.CreateItem(r.ctx, kind, childText(el, elName), opts)
	if err != nil {
		return err
	}
	r.bind(string(kind), el, item.ID)
	r.stats.Items++
	return nil
}

// importAuthority creates a new authority with its permitted sets. An
// existing authority's sets are left alone even when the document lists
// more items for it.
func (r *importRun) importAuthority(el *etree.Element) error {
	id, existing, err := eatsID(el)
	if err != nil {
		return errors.NewEATSMLError(el.Tag, "%v", err)
	}
	if existing {
		if _, err := r.store.GetAuthority(r.ctx, id); err != nil {
			return errors.NewEATSMLError(el.Tag, "eats_id %d: %v", id, err)
		}
		r.bind(elAuthority, el, id)
		return nil
	}

	authority, err := r.store.CreateAuthority(r.ctx, childText(el, elName))
	if err != nil {
		return err
	}
	for _, kind := range types.Kinds {
		permitted, err := r.resolveRefList(kind, el.SelectElement(kind.Plural()))
		if err != nil {
			return err
		}
		if len(permitted) == 0 {
			continue
		}
		if err := r.store.SetAuthorityItems(r.ctx, authority.ID, kind, permitted); err != nil {
			return err
		}
	}
	r.bind(elAuthority, el, authority.ID)
	r.created[authority.ID] = true
	r.stats.Authorities++
	return nil
}

// importEntity binds an existing entity, following merge redirects, or
// creates a new one.
func (r *importRun) importEntity(el *etree.Element) error {
	id, existing, err := eatsID(el)
	if err != nil {
		return errors.NewEATSMLError(el.Tag, "%v", err)
	}
	if existing {
		live, err := r.store.ResolveEntityID(r.ctx, id)
		if err != nil {
			return errors.NewEATSMLError(el.Tag, "eats_id %d: %v", id, err)
		}
		r.bind(elEntity, el, live)
		return nil
	}

	entity, err := r.store.CreateEntity(r.ctx, 0)
	if err != nil {
		return err
	}
	if ids := el.SelectElement(elIdentifiers); ids != nil {
		for _, ident := range ids.SelectElements(elIdentifier) {
			if err := r.store.AddSubjectIdentifier(r.ctx, entity.ID, ident.Text()); err != nil {
				return err
			}
		}
	}
	r.bind(elEntity, el, entity.ID)
	el.CreateAttr(attrURL, entity.URL)
	r.stats.Entities++
	return nil
}

func (r *importRun) importAssertions(el *etree.Element) error {
	entityID := r.ids[refKey{elEntity, el.SelectAttrValue(attrXMLID, "")}]
	for _, c := range assertionContainers {
		group := el.SelectElement(c.container)
		if group == nil {
			continue
		}
		for _, ael := range group.SelectElements(c.element) {
			id, existing, err := eatsID(ael)
			if err != nil {
				return errors.NewEATSMLError(ael.Tag, "%v", err)
			}
			if existing {
				prior, err := r.store.GetAssertion(r.ctx, id)
				if err != nil {
					return errors.NewEATSMLError(ael.Tag, "eats_id %d: %v", id, err)
				}
				if prior.EntityID != entityID && prior.RangeEntityID != entityID {
					return errors.NewEATSMLError(ael.Tag, "eats_id %d belongs to entity %d, not %d",
						id, prior.EntityID, entityID)
				}
				continue
			}

			a, err := r.buildAssertion(c.kind, entityID, ael)
			if err != nil {
				return err
			}
			created, err := r.store.CreateAssertion(r.ctx, a)
			if err != nil {
				return err
			}
			ael.CreateAttr(attrEATSID, strconv.FormatInt(created.ID, 10))
			if dates := ael.SelectElement(elDates); dates != nil {
				for i, d := range dates.SelectElements(elDate) {
					d.CreateAttr(attrEATSID, strconv.FormatInt(created.Dates[i].ID, 10))
				}
			}
			r.stats.Assertions++
		}
	}
	return nil
}

func (r *importRun) buildAssertion(kind types.AssertionKind, entityID int64, el *etree.Element) (*types.Assertion, error) {
	authorityID, err := r.resolveAttr(el, attrAuthority)
	if err != nil {
		return nil, err
	}
	if r.user != nil && !r.user.CanEdit(authorityID) && !r.created[authorityID] {
		return nil, errors.NewValidationErrorf(attrAuthority,
			"user %q may not edit authority %d", r.user.Username, authorityID)
	}

	// Names are preferred unless the document says otherwise.
	preferred := kind == types.AssertionName
	if v := el.SelectAttrValue(attrIsPreferred, ""); v != "" {
		preferred, _ = parseBool(v)
	}
	certainty, _ := types.ParseCertainty(el.SelectAttrValue(attrCertainty, ""))

	a := &types.Assertion{
		Kind:        kind,
		EntityID:    entityID,
		AuthorityID: authorityID,
		IsPreferred: preferred,
		Certainty:   certainty,
	}

	switch kind {
	case types.AssertionEntityType:
		if a.EntityTypeID, err = r.resolveAttr(el, attrEntityType); err != nil {
			return nil, err
		}
	case types.AssertionName:
		if a.Name, err = r.buildName(el); err != nil {
			return nil, err
		}
	case types.AssertionEntityRelationship:
		if a.RelationshipTypeID, err = r.resolveAttr(el, attrRelType); err != nil {
			return nil, err
		}
		if a.EntityID, err = r.resolveAttr(el, attrDomainEntity); err != nil {
			return nil, err
		}
		if a.RangeEntityID, err = r.resolveAttr(el, attrRangeEntity); err != nil {
			return nil, err
		}
		if entityID != a.EntityID && entityID != a.RangeEntityID {
			return nil, errors.NewEATSMLError(el.Tag, "relationship does not involve the entity it is listed under")
		}
	case types.AssertionNote:
		a.Note = childText(el, elText)
		a.IsInternal, _ = parseBool(el.SelectAttrValue(attrIsInternal, "false"))
	case types.AssertionSubjectIdentifier:
		a.URL = el.SelectAttrValue(attrURL, "")
	case types.AssertionExistence:
	}

	if dates := el.SelectElement(elDates); dates != nil {
		for _, d := range dates.SelectElements(elDate) {
			date, err := r.buildDate(d)
			if err != nil {
				return nil, err
			}
			a.Dates = append(a.Dates, date)
		}
	}
	if notes := el.SelectElement(elNotes); notes != nil {
		for _, n := range notes.SelectElements(elNote) {
			internal, _ := parseBool(n.SelectAttrValue(attrIsInternal, "false"))
			a.Notes = append(a.Notes, types.NoteAttachment{Text: n.Text(), IsInternal: internal})
		}
	}
	return a, nil
}

func (r *importRun) buildName(el *etree.Element) (*types.Name, error) {
	var n types.Name
	var err error
	if n.NameTypeID, err = r.resolveAttr(el, attrNameType); err != nil {
		return nil, err
	}
	if n.LanguageID, err = r.resolveAttr(el, attrLanguage); err != nil {
		return nil, err
	}
	if n.ScriptID, err = r.resolveAttr(el, attrScript); err != nil {
		return nil, err
	}
	n.DisplayForm = childText(el, elDisplayForm)

	parts := el.SelectElement(elNameParts)
	if parts == nil {
		return &n, nil
	}
	for _, p := range parts.SelectElements(elNamePart) {
		part := types.NamePart{DisplayForm: p.Text()}
		if part.NamePartTypeID, err = r.resolveAttr(p, attrNamePartType); err != nil {
			return nil, err
		}
		if part.LanguageID, err = r.resolveAttr(p, attrLanguage); err != nil {
			return nil, err
		}
		if part.ScriptID, err = r.resolveAttr(p, attrScript); err != nil {
			return nil, err
		}
		part.Order, _ = strconv.Atoi(p.SelectAttrValue(attrOrder, "0"))
		n.Parts = append(n.Parts, part)
	}
	return &n, nil
}

func (r *importRun) buildDate(el *etree.Element) (types.Date, error) {
	date := types.Date{Parts: make(map[types.Slot]types.DatePart)}
	var err error
	if date.PeriodID, err = r.resolveAttr(el, attrDatePeriod); err != nil {
		return date, err
	}

	parts := el.SelectElement(elDateParts)
	if parts == nil {
		return date, nil
	}
	for _, p := range parts.SelectElements(elDatePart) {
		slot, err := types.ParseSlot(p.SelectAttrValue(attrType, ""))
		if err != nil {
			return date, errors.NewEATSMLError(p.Tag, "%v", err)
		}
		part := types.DatePart{
			Raw:        childText(p, elRaw),
			Normalised: childText(p, elNormalised),
		}
		part.Certainty, _ = types.ParseCertainty(p.SelectAttrValue(attrCertainty, ""))
		if part.CalendarID, err = r.resolveAttr(p, attrCalendar); err != nil {
			return date, err
		}
		if part.DateTypeID, err = r.resolveAttr(p, attrDateType); err != nil {
			return date, err
		}
		date.Parts[slot] = part
	}
	return date, nil
}
