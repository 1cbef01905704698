package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/artefact/eats/eats/storage"
	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

// EntityCmd groups entity commands.
var EntityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Create, show and delete entities",
	Long: `Create, show and delete entities.

Examples:
  eats entity create --authority DNZB --type Person --name "Kate Sheppard" --name-type regular
  eats entity show 12
  eats entity delete 12`,
}

var entityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an entity with an existence assertion",
	Args:  cobra.NoArgs,
	RunE:  runEntityCreate,
}

var entityShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show an entity and its assertions",
	Args:  cobra.ExactArgs(1),
	RunE:  runEntityShow,
}

var entityDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an entity and everything asserted about it",
	Args:  cobra.ExactArgs(1),
	RunE:  runEntityDelete,
}

var entityCreateFlags struct {
	authority  string
	entityType string
	name       string
	nameType   string
	language   string
	script     string
}

func init() {
	f := entityCreateCmd.Flags()
	f.StringVar(&entityCreateFlags.authority, "authority", "", "Authority (name or id) making the assertions")
	f.StringVar(&entityCreateFlags.entityType, "type", "", "Entity type to assert")
	f.StringVar(&entityCreateFlags.name, "name", "", "Display form of a name to assert")
	f.StringVar(&entityCreateFlags.nameType, "name-type", "", "Name type of --name")
	f.StringVar(&entityCreateFlags.language, "language", "", "Language of --name")
	f.StringVar(&entityCreateFlags.script, "script", "", "Script of --name")
	entityCreateCmd.MarkFlagRequired("authority")

	EntityCmd.AddCommand(entityCreateCmd)
	EntityCmd.AddCommand(entityShowCmd)
	EntityCmd.AddCommand(entityDeleteCmd)
}

func runEntityCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	fl := entityCreateFlags
	if fl.name != "" && fl.nameType == "" {
		return errors.New("--name requires --name-type")
	}

	var entity *types.Entity
	err = s.store.WithTx(ctx, func(tx *storage.Store) error {
		txs := &session{cfg: s.cfg, db: s.db, store: tx}
		authority, err := txs.authority(ctx, fl.authority)
		if err != nil {
			return err
		}
		if entity, err = tx.CreateEntity(ctx, authority.ID); err != nil {
			return err
		}

		if fl.entityType != "" {
			typeID, err := txs.item(ctx, types.KindEntityType, fl.entityType)
			if err != nil {
				return err
			}
			if _, err := tx.CreateEntityTypeAssertion(ctx, entity.ID, authority.ID, typeID, true); err != nil {
				return err
			}
		}

		if fl.name != "" {
			var name types.Name
			name.DisplayForm = fl.name
			if name.NameTypeID, err = txs.item(ctx, types.KindNameType, fl.nameType); err != nil {
				return err
			}
			if name.LanguageID, err = txs.item(ctx, types.KindLanguage, fl.language); err != nil {
				return err
			}
			if name.ScriptID, err = txs.item(ctx, types.KindScript, fl.script); err != nil {
				return err
			}
			if _, err := tx.CreateNameAssertion(ctx, entity.ID, authority.ID, name, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	pterm.Success.Printfln("Created entity %d (%s)", entity.ID, entity.URL)
	return nil
}

func runEntityShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	entity, err := s.store.GetEntity(ctx, id)
	if newID, merged := errors.MergedInto(err); merged {
		pterm.Warning.Printfln("Entity %d was merged into entity %d", id, newID)
		return nil
	}
	if err != nil {
		return err
	}

	pterm.DefaultSection.Printfln("Entity %d", entity.ID)
	fmt.Printf("URL: %s\n", entity.URL)
	identifiers, err := s.store.SubjectIdentifiers(ctx, entity.ID)
	if err != nil {
		return err
	}
	for _, url := range identifiers {
		fmt.Printf("Identifier: %s\n", url)
	}

	assertions, err := s.store.EntityAssertions(ctx, entity.ID, "")
	if err != nil {
		return err
	}
	relationships, err := s.store.EntityRelationships(ctx, entity.ID)
	if err != nil {
		return err
	}
	// Relationships where this entity is the range are listed too.
	seen := make(map[int64]bool, len(assertions))
	for _, a := range assertions {
		seen[a.ID] = true
	}
	for _, a := range relationships {
		if !seen[a.ID] {
			assertions = append(assertions, a)
		}
	}

	d := &describer{ctx: ctx, store: s.store, names: make(map[int64]string)}
	data := pterm.TableData{{"ID", "Kind", "Authority", "Preferred", "Certainty", "Value"}}
	for _, a := range assertions {
		preferred := ""
		if a.IsPreferred {
			preferred = "yes"
		}
		data = append(data, []string{
			strconv.FormatInt(a.ID, 10),
			string(a.Kind),
			d.authority(a.AuthorityID),
			preferred,
			string(a.Certainty),
			d.value(a),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runEntityDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.store.DeleteEntity(cmd.Context(), id); err != nil {
		return err
	}
	pterm.Success.Printfln("Deleted entity %d", id)
	return nil
}

// describer renders assertions with infrastructure and authorities by name.
// Lookup failures render as the bare id.
type describer struct {
	ctx   context.Context
	store *storage.Store
	names map[int64]string
}

func (d *describer) item(id int64) string {
	if id == 0 {
		return ""
	}
	if name, ok := d.names[id]; ok {
		return name
	}
	name := strconv.FormatInt(id, 10)
	if item, err := d.store.GetItem(d.ctx, id); err == nil {
		name = item.Label()
	}
	d.names[id] = name
	return name
}

func (d *describer) authority(id int64) string {
	if a, err := d.store.GetAuthority(d.ctx, id); err == nil {
		return a.Name
	}
	return strconv.FormatInt(id, 10)
}

func (d *describer) value(a *types.Assertion) string {
	var parts []string
	switch a.Kind {
	case types.AssertionEntityType:
		parts = append(parts, d.item(a.EntityTypeID))
	case types.AssertionName:
		form, err := d.store.NameAssembledForm(d.ctx, a.ID)
		if err != nil {
			form = a.Name.DisplayForm
		}
		parts = append(parts, fmt.Sprintf("%q (%s)", form, d.item(a.Name.NameTypeID)))
	case types.AssertionEntityRelationship:
		parts = append(parts, fmt.Sprintf("%d %s %d", a.EntityID, d.item(a.RelationshipTypeID), a.RangeEntityID))
	case types.AssertionNote:
		parts = append(parts, a.Note)
	case types.AssertionSubjectIdentifier:
		parts = append(parts, a.URL)
	}
	for i := range a.Dates {
		parts = append(parts, fmt.Sprintf("[%s: %s]", d.item(a.Dates[i].PeriodID), a.Dates[i].AssembledForm()))
	}
	for _, n := range a.Notes {
		parts = append(parts, fmt.Sprintf("note: %s", n.Text))
	}
	return strings.Join(parts, " ")
}
