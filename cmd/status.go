package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memshard status",
	RunE:  runStatus,
}

func mark(err error) string {
	if err == nil {
		return "✓"
	}
	return "✗"
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := configPath()

	fmt.Printf("%s memshard Status\n\n", logo)

	_, statErr := os.Stat(cfgPath)
	fmt.Printf("Config:    %s %s\n", cfgPath, mark(statErr))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	ws := cfg.WorkspacePath()
	_, wsErr := os.Stat(ws)
	fmt.Printf("Workspace: %s %s\n", ws, mark(wsErr))
	fmt.Printf("Storage:   %s\n", cfg.Storage.Backend)

	backend := "(unknown)"
	if spec := cfg.ProviderSpec(); spec != nil {
		backend = spec.DisplayName
	}
	key := "(not set)"
	if cfg.Provider.APIKey != "" {
		key = "✓"
	}
	fmt.Printf("Provider:  %s, key %s\n", backend, key)
	fmt.Printf("Model:     %s\n", cfg.Provider.Model)
	fmt.Printf("Review:    %s\n\n", cfg.Memory.ReviewPolicy)

	if wsErr != nil {
		return nil
	}
	c, err := openContainer()
	if err != nil {
		fmt.Printf("  (could not open workspace: %v)\n", err)
		return nil
	}
	defer c.Close()

	infos := c.Sessions().ListSessions()
	fmt.Printf("Sessions (%d):\n", len(infos))
	for _, info := range infos {
		k, err := c.Chats().Keeper(info.Key)
		if err != nil {
			fmt.Printf("  %-30s (error: %v)\n", info.Key, err)
			continue
		}
		rs, _ := k.Ranges()
		fmt.Printf("  %-30s %4d messages  %2d ranges  updated %s\n", info.Key, k.Host().Len(), len(rs), info.UpdatedAt)
	}
	return nil
}
