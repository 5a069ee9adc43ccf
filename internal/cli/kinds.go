package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/attr"
	"github.com/roach88/treesync/internal/schema"
)

// KindInfo describes one declared kind.
type KindInfo struct {
	Name     string         `json:"name"`
	AutoSync *bool          `json:"auto_sync,omitempty"`
	OrderBy  string         `json:"order_by,omitempty"`
	Defaults map[string]any `json:"defaults,omitempty"`
}

// KindList prints one line per kind in text mode.
type KindList []KindInfo

func (l KindList) String() string {
	if len(l) == 0 {
		return "No kinds declared."
	}
	lines := make([]string, 0, len(l))
	for _, k := range l {
		mode := "default"
		if k.AutoSync != nil {
			mode = fmt.Sprintf("%t", *k.AutoSync)
		}
		line := fmt.Sprintf("%s\tautoSync=%s", k.Name, mode)
		if k.OrderBy != "" {
			line += "\torderBy=" + k.OrderBy
		}
		if len(k.Defaults) > 0 {
			if data, err := attr.MarshalCanonical(k.Defaults); err == nil {
				line += "\tdefaults=" + string(data)
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// NewKindsCommand creates the kinds command.
func NewKindsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds <file-or-dir>",
		Short: "List kinds declared in CUE",
		Long: `Load kind declarations from a CUE file or a directory of CUE files
and list them. Exits with code 2 if the declarations do not validate.

Example kind:
  kind: todo: {
    autoSync: false
    orderBy:  "rank"
    defaults: {done: false}
  }`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadKinds(args[0])
			if err != nil {
				return err
			}
			list := KindList{}
			for _, k := range reg.Kinds() {
				list = append(list, KindInfo{
					Name:     k.Name,
					AutoSync: k.AutoSync,
					OrderBy:  k.OrderBy,
					Defaults: k.Defaults,
				})
			}
			return newFormatter(cmd, rootOpts).Success(list)
		},
	}
}

// loadKinds loads a kind registry from a CUE file or directory.
func loadKinds(path string) (*schema.Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "kinds not found", err)
	}

	var reg *schema.Registry
	if info.IsDir() {
		reg, err = schema.LoadDir(path)
	} else {
		reg, err = schema.LoadFile(path)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid kinds", err)
	}
	return reg, nil
}
