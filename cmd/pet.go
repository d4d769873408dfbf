package main

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/model"
)

var petCmd = &cobra.Command{
	Use:   "pet",
	Short: "Manage pet profiles",
}

var petSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or replace a pet profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pet, err := petFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpsertPet(ctx, pet); err != nil {
			return eris.Wrap(err, "pet set")
		}
		zap.L().Info("pet saved", zap.String("pet_id", pet.ID))
		return writeIndentedJSON(os.Stdout, pet)
	},
}

var petGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show a pet profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		id, _ := cmd.Flags().GetString("id")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pet, err := st.GetPet(ctx, id)
		if err != nil {
			return eris.Wrap(err, "pet get")
		}
		return writeIndentedJSON(os.Stdout, pet)
	},
}

func init() {
	petSetCmd.Flags().String("id", "", "pet id (required)")
	petSetCmd.Flags().String("name", "", "pet name")
	petSetCmd.Flags().String("species", "", "dog, cat, or another species name (required)")
	petSetCmd.Flags().StringSlice("sensitivity", nil, "known sensitivities, comma separated")
	_ = petSetCmd.MarkFlagRequired("id")
	_ = petSetCmd.MarkFlagRequired("species")

	petGetCmd.Flags().String("id", "", "pet id (required)")
	_ = petGetCmd.MarkFlagRequired("id")

	petCmd.AddCommand(petSetCmd)
	petCmd.AddCommand(petGetCmd)
	rootCmd.AddCommand(petCmd)
}

// petFromFlags builds and validates a pet profile from the set flags.
func petFromFlags(cmd *cobra.Command) (model.Pet, error) {
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	species, _ := cmd.Flags().GetString("species")
	sens, _ := cmd.Flags().GetStringSlice("sensitivity")

	pet := model.Pet{
		ID:            id,
		Name:          name,
		Species:       model.Species(strings.ToLower(strings.TrimSpace(species))),
		Sensitivities: []string{},
	}
	for _, s := range sens {
		if s = strings.TrimSpace(s); s != "" {
			pet.Sensitivities = append(pet.Sensitivities, s)
		}
	}

	if err := validator.New().Struct(pet); err != nil {
		return pet, eris.Wrap(err, "invalid pet")
	}
	return pet, nil
}
