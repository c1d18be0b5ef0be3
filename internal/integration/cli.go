package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type argKind int

const (
	argString argKind = iota
	argInt
	argBool
	argList
	argJSON
)

// cliSpec types the flags of one CLI command. Flags it does not mention are
// passed through as strings; the RPC decoder rejects the ones it does not
// know.
type cliSpec struct {
	usage      string
	positional []string
	kinds      map[string]argKind
	required   []string
}

var cliSpecs = map[string]cliSpec{
	"org.create": {
		usage:    "org create --name NAME [--type company|division|department|group] [--level N] [--parent-id ID] [--manager-agent-id ID] [--agent-ids a,b]",
		required: []string{"name"},
		kinds:    map[string]argKind{"agent_ids": argList, "metadata": argJSON, "level": argInt},
	},
	"org.list":        {usage: "org list [--parent-id ID] [--type TYPE] [--agent-id ID]"},
	"org.update":      {usage: "org update ID [--name NAME] [--parent-id ID]", positional: []string{"id"}, kinds: map[string]argKind{"metadata": argJSON}},
	"org.addAgent":    {usage: "org addAgent ID AGENT", positional: []string{"id", "agent_id"}},
	"org.removeAgent": {usage: "org removeAgent ID AGENT", positional: []string{"id", "agent_id"}},
	"team.create": {
		usage:    "team create --organization-id ID --name NAME [--leader-id ID] [--member-ids a,b] [--objectives x,y]",
		required: []string{"organization_id", "name"},
		kinds:    map[string]argKind{"member_ids": argList, "objectives": argList},
	},
	"team.update":       {usage: "team update ID [--name NAME] [--objectives x,y]", positional: []string{"id"}, kinds: map[string]argKind{"objectives": argList}},
	"team.addMember":    {usage: "team addMember ID AGENT", positional: []string{"id", "agent_id"}},
	"team.removeMember": {usage: "team removeMember ID AGENT", positional: []string{"id", "agent_id"}},
	"team.setLeader":    {usage: "team setLeader ID AGENT", positional: []string{"id", "agent_id"}},
	"collab.create": {
		usage:    "collab create --from-agent-id A --to-agent-id B --type colleague [--organization-id ID]",
		required: []string{"from_agent_id", "to_agent_id", "type"},
	},
	"collab.collaborators": {usage: "collab collaborators AGENT", positional: []string{"agent_id"}},
	"collab.path":          {usage: "collab path FROM TO [--max-depth N]", positional: []string{"from", "to"}, kinds: map[string]argKind{"max_depth": argInt}},
	"mentor.create": {
		usage:    "mentor create --mentor-id A --mentee-id B [--goals x,y] [--notes TEXT]",
		required: []string{"mentor_id", "mentee_id"},
		kinds:    map[string]argKind{"goals": argList},
	},
	"mentor.progress": {usage: "mentor progress ID --progress N [--notes TEXT]", positional: []string{"id"}, required: []string{"progress"}, kinds: map[string]argKind{"progress": argInt}},
	"mentor.status":   {usage: "mentor status ID --status active|completed|paused|cancelled", positional: []string{"id"}, required: []string{"status"}},
	"approval.create": {
		usage:    "approval create --type TYPE --title TITLE --requester-id ID [--approvers a,b] [--required-approvals N] [--ttl-seconds N] [--payload JSON]",
		required: []string{"type", "title", "requester_id"},
		kinds:    map[string]argKind{"approvers": argList, "required_approvals": argInt, "ttl_seconds": argInt, "payload": argJSON},
	},
	"approval.list":    {usage: "approval list [--status S] [--type T] [--requester-id ID] [--approver-id ID] [--limit N]", kinds: map[string]argKind{"limit": argInt}},
	"approval.pending": {usage: "approval pending APPROVER", positional: []string{"approver_id"}},
	"approval.approve": {usage: "approval approve ID --approver-id ID [--comment TEXT]", positional: []string{"id"}, required: []string{"approver_id"}},
	"approval.reject":  {usage: "approval reject ID --approver-id ID [--comment TEXT]", positional: []string{"id"}, required: []string{"approver_id"}},
	"approval.cancel":  {usage: "approval cancel ID --requester-id ID", positional: []string{"id"}, required: []string{"requester_id"}},
	"binding.create": {
		usage:    "binding create --agent-id ID --channel CH [--account-id ID] [--chat-id ID] [--policy JSON] [--priority N] [--enabled]",
		required: []string{"agent_id", "channel"},
		kinds:    map[string]argKind{"policy": argJSON, "priority": argInt, "enabled": argBool},
	},
	"binding.request": {
		usage:    "binding request --requester-id ID --binding JSON [--approvers a,b]",
		required: []string{"requester_id", "binding"},
		kinds:    map[string]argKind{"binding": argJSON, "approvers": argList},
	},
	"binding.update": {
		usage:      "binding update ID [--policy JSON] [--priority N] [--enabled=false]",
		positional: []string{"id"},
		kinds:      map[string]argKind{"policy": argJSON, "priority": argInt, "enabled": argBool},
	},
	"message.route": {
		usage:    "message route --channel CH --sender-id ID --text TEXT [--id ID] [--account-id ID] [--chat-id ID]",
		required: []string{"channel", "sender_id"},
	},
	"message.send":       {usage: "message send AGENT TEXT", positional: []string{"agent_id", "text"}},
	"moderation.list":    {usage: "moderation list [--binding-id ID]"},
	"moderation.approve": {usage: "moderation approve BINDING MESSAGE [--moderator-id ID]", positional: []string{"binding_id", "message_id"}},
	"moderation.reject":  {usage: "moderation reject BINDING MESSAGE [--moderator-id ID]", positional: []string{"binding_id", "message_id"}},
	"inbox.list":         {usage: "inbox list AGENT [--limit N]", positional: []string{"agent_id"}, kinds: map[string]argKind{"limit": argInt}},

	"workspace.ensureAgent":        {usage: "workspace ensureAgent AGENT", positional: []string{"agent_id"}},
	"workspace.context":            {usage: "workspace context AGENT", positional: []string{"agent_id"}},
	"workspace.group.create":       {usage: "workspace group create --id ID --name NAME [--channel CH] [--owner-id ID] [--members JSON]", required: []string{"id", "name"}, kinds: map[string]argKind{"members": argJSON}},
	"workspace.group.addMember":    {usage: "workspace group addMember GROUP MEMBER [--name NAME] [--role ROLE]", positional: []string{"group_id", "id"}},
	"workspace.group.removeMember": {usage: "workspace group removeMember GROUP MEMBER", positional: []string{"group_id", "member_id"}},
	"workspace.group.writeDoc":     {usage: "workspace group writeDoc GROUP NAME --content TEXT", positional: []string{"group_id", "name"}, required: []string{"content"}},
	"workspace.access.set":         {usage: "workspace access set AGENT [--allow a,b] [--deny a,b] [--read-only]", positional: []string{"agent_id"}, kinds: map[string]argKind{"allow": argList, "deny": argList, "read_only": argBool}},
	"workspace.access.get":         {usage: "workspace access get AGENT", positional: []string{"agent_id"}},
	"workspace.access.remove":      {usage: "workspace access remove AGENT", positional: []string{"agent_id"}},
	"workspace.access.check":       {usage: "workspace access check AGENT PATH [--operation read|write]", positional: []string{"agent_id", "path"}},
	"workspace.sediment":           {usage: "workspace sediment GROUP [--history JSON]", positional: []string{"group_id"}, kinds: map[string]argKind{"history": argJSON}},
	"org.agentOrganizations":       {usage: "org agentOrganizations AGENT", positional: []string{"agent_id"}},
	"workspace.group.list":         {usage: "workspace group list"},
	"team.list":                    {usage: "team list [--organization-id ID] [--member-id ID]"},
	"collab.list":                  {usage: "collab list [--agent-id ID] [--type T] [--organization-id ID]"},
	"mentor.list":                  {usage: "mentor list [--mentor-id ID] [--mentee-id ID] [--status S]"},
	"binding.list":                 {usage: "binding list [--agent-id ID] [--channel CH]"},
}

// ParseArgs splits CLI arguments into flags and positionals. It accepts
// --key value, --key=value, key=value and bare --flag (which reads as "true").
// Flag names are normalised to snake_case. Flags named in boolFlags never
// take the next argument as their value; use --flag=false to clear one.
func ParseArgs(args []string, boolFlags ...string) (map[string]string, []string, error) {
	bools := make(map[string]bool, len(boolFlags))
	for _, name := range boolFlags {
		bools[flagKey(name)] = true
	}
	flags := make(map[string]string)
	var positionals []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			positionals = append(positionals, args[i+1:]...)
			return flags, positionals, nil
		case strings.HasPrefix(arg, "--"):
			name := strings.TrimPrefix(arg, "--")
			if key, value, ok := strings.Cut(name, "="); ok {
				if key == "" {
					return nil, nil, fmt.Errorf("%w: malformed flag %q", ErrValidation, arg)
				}
				flags[flagKey(key)] = value
				continue
			}
			if name == "" {
				return nil, nil, fmt.Errorf("%w: malformed flag %q", ErrValidation, arg)
			}
			if !bools[flagKey(name)] && i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				flags[flagKey(name)] = args[i+1]
				i++
				continue
			}
			flags[flagKey(name)] = "true"
		case strings.Contains(arg, "=") && !strings.HasPrefix(arg, "="):
			key, value, _ := strings.Cut(arg, "=")
			flags[flagKey(key)] = value
		default:
			positionals = append(positionals, arg)
		}
	}
	return flags, positionals, nil
}

func flagKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// ExecCLI runs a CLI command such as ["org", "create", "--name", "Acme"] and
// returns the result as indented JSON. Every RPC method is reachable: the
// command is the method name split on dots.
func (p *Platform) ExecCLI(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 || args[0] == "help" {
		return p.CLIUsage(), nil
	}

	method, rest := p.resolveCommand(args)
	if method == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownMethod, strings.Join(args, " "))
	}
	if caller, ok := CallerFromContext(ctx); ok {
		if err := Authorize(caller, method); err != nil {
			return "", err
		}
	}
	return p.runCLI(ctx, method, rest)
}

// CLICommand is one entry of the CLI command map.
type CLICommand struct {
	Usage string
	Run   func(ctx context.Context, args []string) (string, error)
}

// CLICommands returns the command map keyed by the space separated command
// name, e.g. "org create".
func (p *Platform) CLICommands() map[string]CLICommand {
	methods := p.RPCMethods()
	commands := make(map[string]CLICommand, len(methods))
	for _, method := range methods {
		method := method
		commands[strings.ReplaceAll(method, ".", " ")] = CLICommand{
			Usage: commandUsage(method),
			Run: func(ctx context.Context, args []string) (string, error) {
				return p.runCLI(ctx, method, args)
			},
		}
	}
	return commands
}

func (p *Platform) runCLI(ctx context.Context, method string, args []string) (string, error) {
	spec := cliSpecs[method]

	var boolFlags []string
	for key, kind := range spec.kinds {
		if kind == argBool {
			boolFlags = append(boolFlags, key)
		}
	}
	flags, positionals, err := ParseArgs(args, boolFlags...)
	if err != nil {
		return "", err
	}
	if len(positionals) > 0 && len(spec.positional) == 0 {
		spec.positional = []string{"id"}
	}
	if len(positionals) > len(spec.positional) {
		return "", fmt.Errorf("%w: too many arguments; usage: %s", ErrValidation, commandUsage(method))
	}
	for i, value := range positionals {
		flags[spec.positional[i]] = value
	}
	for _, key := range spec.required {
		if _, ok := flags[key]; !ok {
			return "", fmt.Errorf("%w: --%s is required; usage: %s", ErrValidation, strings.ReplaceAll(key, "_", "-"), commandUsage(method))
		}
	}

	params := make(map[string]any, len(flags))
	for key, raw := range flags {
		value, err := convertArg(spec.kinds[key], raw)
		if err != nil {
			return "", fmt.Errorf("%w: --%s: %v", ErrValidation, strings.ReplaceAll(key, "_", "-"), err)
		}
		params[key] = value
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", err
	}

	result, err := p.Call(ctx, method, encoded)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// resolveCommand matches the longest dotted prefix of args to a method.
func (p *Platform) resolveCommand(args []string) (string, []string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for n := min(3, len(args)); n >= 1; n-- {
		name := strings.Join(args[:n], ".")
		if _, ok := p.rpc[name]; ok {
			return name, args[n:]
		}
	}
	return "", nil
}

func convertArg(kind argKind, raw string) (any, error) {
	switch kind {
	case argInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case argBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case argList:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	case argJSON:
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return json.RawMessage(raw), nil
	default:
		return raw, nil
	}
}

func commandUsage(method string) string {
	if spec, ok := cliSpecs[method]; ok && spec.usage != "" {
		return spec.usage
	}
	usage := strings.ReplaceAll(method, ".", " ")
	if strings.HasSuffix(method, ".get") || strings.HasSuffix(method, ".delete") || strings.HasSuffix(method, ".tree") ||
		strings.HasSuffix(method, ".ancestors") || strings.HasSuffix(method, ".descendants") ||
		strings.HasSuffix(method, ".path") || strings.HasSuffix(method, ".stats") {
		usage += " ID"
	}
	return usage
}

// CLIUsage lists every command.
func (p *Platform) CLIUsage() string {
	methods := p.RPCMethods()
	lines := make([]string, 0, len(methods)+1)
	lines = append(lines, "commands:")
	for _, method := range methods {
		lines = append(lines, "  "+commandUsage(method))
	}
	sort.Strings(lines[1:])
	return strings.Join(lines, "\n")
}
