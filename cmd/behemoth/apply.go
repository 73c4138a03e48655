package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/behemoth/pkg/client"
	"github.com/cuemby/behemoth/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply a Behemoth resource from a YAML file.

Examples:
  # Create a deployment plan with inline command text
  behemoth apply -f plan.yaml

  # Register a worker host
  behemoth apply -f worker.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Resource is a generic Behemoth manifest.
type Resource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       map[string]any   `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	OrgID  string            `yaml:"orgId,omitempty"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var resource Resource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	c := newAPIClient(cmd)

	switch resource.Kind {
	case "Plan":
		return applyPlan(cmd, c, &resource)
	case "Worker":
		return applyWorker(cmd, c, &resource)
	case "Asset":
		return applyAsset(cmd, c, &resource)
	case "Environment":
		return applyEnvironment(cmd, c, &resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyPlan(cmd *cobra.Command, c *client.Client, resource *Resource) error {
	spec := client.PlanSpec{
		OrgID:            resource.Metadata.OrgID,
		Name:             resource.Metadata.Name,
		Category:         getString(resource.Spec, "category", "deploy"),
		Strategy:         getString(resource.Spec, "strategy", ""),
		PlaybackStrategy: getString(resource.Spec, "playbackStrategy", ""),
		EnvironmentID:    getString(resource.Spec, "environmentId", ""),
		AssetID:          getString(resource.Spec, "assetId", ""),
		AccountID:        getString(resource.Spec, "accountId", ""),
		PlaybackID:       getString(resource.Spec, "playbackId", ""),
		Version:          getString(resource.Spec, "version", ""),
		CommandText:      getString(resource.Spec, "commandText", ""),
		UserID:           getString(resource.Spec, "userId", ""),
	}
	if ids, ok := resource.Spec["playbackExecutionIds"].([]any); ok {
		for _, id := range ids {
			spec.PlaybackExecutionIDs = append(spec.PlaybackExecutionIDs, fmt.Sprintf("%v", id))
		}
	}

	fmt.Printf("Creating plan: %s\n", spec.Name)
	out, err := c.CreatePlan(cmd.Context(), spec)
	if err != nil {
		return fmt.Errorf("failed to create plan: %v", err)
	}
	fmt.Printf("✓ Plan created: %s (ID: %s)\n", out.Plan.Name, out.Plan.ID)
	if out.ExecutionID != "" {
		fmt.Printf("✓ Execution created: %s\n", out.ExecutionID)
	}
	return nil
}

func applyWorker(cmd *cobra.Command, c *client.Client, resource *Resource) error {
	worker := &types.Worker{
		OrgID:   resource.Metadata.OrgID,
		Name:    resource.Metadata.Name,
		Address: getString(resource.Spec, "address", ""),
		Port:    getInt(resource.Spec, "port", 22),
	}
	for label := range resource.Metadata.Labels {
		worker.Labels = append(worker.Labels, label)
	}
	if acct, ok := resource.Spec["account"].(map[string]any); ok {
		worker.Account = &types.WorkerAccount{
			Username: getString(acct, "username", ""),
			Password: getString(acct, "password", ""),
		}
	}
	if worker.Address == "" {
		return fmt.Errorf("worker address is required")
	}

	fmt.Printf("Registering worker: %s\n", worker.Name)
	created, err := c.CreateWorker(cmd.Context(), worker)
	if err != nil {
		return fmt.Errorf("failed to register worker: %v", err)
	}
	fmt.Printf("✓ Worker registered: %s (ID: %s)\n", created.Name, created.ID)
	return nil
}

func applyAsset(cmd *cobra.Command, c *client.Client, resource *Resource) error {
	asset := &types.Asset{
		OrgID:   resource.Metadata.OrgID,
		Name:    resource.Metadata.Name,
		Type:    types.DatabaseType(getString(resource.Spec, "type", "mysql")),
		Address: getString(resource.Spec, "address", ""),
		Port:    getInt(resource.Spec, "port", 3306),
	}
	if accounts, ok := resource.Spec["accounts"].([]any); ok {
		for _, entry := range accounts {
			acct, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			asset.Accounts = append(asset.Accounts, &types.Account{
				Username: getString(acct, "username", ""),
				Password: getString(acct, "password", ""),
			})
		}
	}

	fmt.Printf("Registering asset: %s\n", asset.Name)
	created, err := c.CreateAsset(cmd.Context(), asset)
	if err != nil {
		return fmt.Errorf("failed to register asset: %v", err)
	}
	fmt.Printf("✓ Asset registered: %s (ID: %s)\n", created.Name, created.ID)
	return nil
}

func applyEnvironment(cmd *cobra.Command, c *client.Client, resource *Resource) error {
	env := &types.Environment{
		OrgID: resource.Metadata.OrgID,
		Name:  resource.Metadata.Name,
	}
	if ids, ok := resource.Spec["assetIds"].([]any); ok {
		for _, id := range ids {
			env.AssetIDs = append(env.AssetIDs, fmt.Sprintf("%v", id))
		}
	}

	fmt.Printf("Creating environment: %s\n", env.Name)
	created, err := c.CreateEnvironment(cmd.Context(), env)
	if err != nil {
		return fmt.Errorf("failed to create environment: %v", err)
	}
	fmt.Printf("✓ Environment created: %s (ID: %s)\n", created.Name, created.ID)
	return nil
}

// Helper functions
func getString(m map[string]any, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]any, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultValue
}
