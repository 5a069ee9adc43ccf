package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/syncer"
)

// PushOptions holds flags for the push command.
type PushOptions struct {
	*RootOptions
	Kinds string // CUE file or directory declaring kinds
	Kind  string
}

// PushResult reports the member written by push.
type PushResult struct {
	ID     string         `json:"id"`
	Path   string         `json:"path"`
	Record map[string]any `json:"record"`
}

func (r PushResult) String() string {
	return r.ID
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push <collection-path> <json-object>",
		Short: "Add a member with a generated key to a collection",
		Long: `Create a collection member from a JSON object. The member is stored at
<collection-path>/<key> with a generated, time-ordered key (see --key-format)
that is also written as its "id" attribute. Prints the key.

With --kind the member is built from a kind declared in --kinds and its
defaults fill attributes the object leaves out.

Examples:
  treesync push todos '{"title":"milk"}'
  treesync push todos '{"title":"milk"}' --kinds kinds.cue --kind todo`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Kinds, "kinds", "", "CUE file or directory declaring kinds")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "kind of the new member")

	return cmd
}

func runPush(cmd *cobra.Command, opts *PushOptions, path, arg string) error {
	attrs, err := parseObject(arg)
	if err != nil {
		return err
	}
	kind, err := opts.lookupKind()
	if err != nil {
		return err
	}
	if kind != nil {
		for k, v := range kind.Defaults {
			if _, ok := attrs[k]; !ok {
				attrs[k] = v
			}
		}
	}

	ctx := commandContext(cmd)
	s, err := openTree(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	node, err := s.node(path)
	if err != nil {
		return err
	}
	coll := model.NewCollection(kind)
	cc, err := syncer.NewCollection(node, coll,
		syncer.WithAutoSync(false),
		syncer.WithLogger(opts.Logger()),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to bind collection", err)
	}
	defer cc.Close()

	var member *model.Record
	err = s.onLoop(ctx, func(done func(error)) {
		r, err := cc.CreateAttributes(attrs, syncer.Options{
			Success: func(any) { done(nil) },
			Error:   done,
		})
		if err != nil {
			done(err)
			return
		}
		member = r
	})
	if err != nil {
		if syncer.IsRemoteOperation(err) {
			return WrapExitError(ExitFailure, "push failed", err)
		}
		return WrapExitError(ExitCommandError, "push failed", err)
	}

	return newFormatter(cmd, opts.RootOptions).Success(PushResult{
		ID:     member.ID(),
		Path:   node.Child(member.ID()).Path(),
		Record: member.Map(),
	})
}

// lookupKind loads the kind named by --kind, or returns nil without one.
func (o *PushOptions) lookupKind() (*model.Kind, error) {
	if o.Kind == "" {
		return nil, nil
	}
	if o.Kinds == "" {
		return nil, NewExitError(ExitCommandError, "--kind requires --kinds")
	}
	reg, err := loadKinds(o.Kinds)
	if err != nil {
		return nil, err
	}
	kind, ok := reg.Lookup(o.Kind)
	if !ok {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q in %s", o.Kind, o.Kinds))
	}
	return kind, nil
}
