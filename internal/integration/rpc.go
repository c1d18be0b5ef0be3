package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/approval"
	"github.com/samhotchkiss/openclaw-hub/internal/channels"
	"github.com/samhotchkiss/openclaw-hub/internal/org"
	"github.com/samhotchkiss/openclaw-hub/internal/workspace"
)

var ErrUnknownMethod = errors.New("unknown rpc method")

// RPCMethod handles one named call. params is the raw JSON object sent by the
// caller and may be empty.
type RPCMethod func(ctx context.Context, params json.RawMessage) (any, error)

// rpc adapts a typed handler into an RPCMethod. Unknown fields are rejected.
func rpc[P any](fn func(ctx context.Context, params P) (any, error)) RPCMethod {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params P
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(trimmed))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&params); err != nil {
				return nil, fmt.Errorf("%w: invalid params: %v", ErrValidation, err)
			}
		}
		return fn(ctx, params)
	}
}

func (p *Platform) registerRPC(name string, fn RPCMethod) error {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return fmt.Errorf("%w: rpc method name and handler are required", ErrValidation)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.rpc[name]; exists {
		return fmt.Errorf("%w: rpc method %s", ErrPluginExists, name)
	}
	p.rpc[name] = fn
	return nil
}

// Call invokes a registered RPC method.
func (p *Platform) Call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	p.mu.RLock()
	fn, ok := p.rpc[method]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if caller, ok := CallerFromContext(ctx); ok {
		if err := Authorize(caller, method); err != nil {
			return nil, err
		}
	}
	return fn(ctx, params)
}

// RPCMethods lists registered method names, sorted.
func (p *Platform) RPCMethods() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.rpc))
	for name := range p.rpc {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type idParams struct {
	ID string `json:"id"`
}

type memberParams struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id"`
}

type orgListParams struct {
	ParentID *string              `json:"parent_id,omitempty"`
	Type     org.OrganizationType `json:"type,omitempty"`
	AgentID  string               `json:"agent_id,omitempty"`
}

type orgUpdateParams struct {
	ID string `json:"id"`
	org.UpdateOrganizationInput
}

type teamUpdateParams struct {
	ID string `json:"id"`
	org.UpdateTeamInput
}

type pathParams struct {
	From     string `json:"from"`
	To       string `json:"to"`
	MaxDepth int    `json:"max_depth,omitempty"`
}

type progressParams struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
	Notes    string `json:"notes,omitempty"`
}

type statusParams struct {
	ID     string               `json:"id"`
	Status org.MentorshipStatus `json:"status"`
}

type approvalCreateParams struct {
	Type              approval.Type   `json:"type"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	RequesterID       string          `json:"requester_id"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Approvers         []string        `json:"approvers,omitempty"`
	RequiredApprovals int             `json:"required_approvals,omitempty"`
	TTLSeconds        int             `json:"ttl_seconds,omitempty"`
}

type decideParams struct {
	ID         string `json:"id"`
	ApproverID string `json:"approver_id"`
	Comment    string `json:"comment,omitempty"`
}

type cancelParams struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`
}

type approverParams struct {
	ApproverID string `json:"approver_id"`
}

type bindingUpdateParams struct {
	ID string `json:"id"`
	channels.BindingUpdate
}

type bindingRequestParams struct {
	RequesterID string                `json:"requester_id"`
	Approvers   []string              `json:"approvers,omitempty"`
	Binding     channels.BindingInput `json:"binding"`
}

type moderationParams struct {
	BindingID   string `json:"binding_id"`
	MessageID   string `json:"message_id"`
	ModeratorID string `json:"moderator_id,omitempty"`
}

type bindingScopeParams struct {
	BindingID string `json:"binding_id,omitempty"`
}

type inboxParams struct {
	AgentID string `json:"agent_id"`
	Limit   int    `json:"limit,omitempty"`
}

type sendParams struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"text"`
}

type agentParams struct {
	AgentID string `json:"agent_id"`
}

type groupMemberParams struct {
	GroupID string `json:"group_id"`
	workspace.GroupMember
}

type groupMemberRemoveParams struct {
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`
}

type groupDocParams struct {
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type accessCheckParams struct {
	AgentID   string              `json:"agent_id"`
	Path      string              `json:"path"`
	Operation workspace.Operation `json:"operation,omitempty"`
}

type sedimentParams struct {
	GroupID string                `json:"group_id"`
	History []workspace.ChatEntry `json:"history,omitempty"`
}

type okResult struct {
	OK bool `json:"ok"`
}

func (p *Platform) registerBuiltinRPC() {
	methods := map[string]RPCMethod{
		// organizations
		"org.create": rpc(func(_ context.Context, in org.CreateOrganizationInput) (any, error) {
			return p.Orgs.CreateOrganization(in)
		}),
		"org.get": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Orgs.GetOrganization(in.ID)
		}),
		"org.list": rpc(func(_ context.Context, in orgListParams) (any, error) {
			return p.Orgs.ListOrganizations(org.OrganizationFilter{ParentID: in.ParentID, Type: in.Type, AgentID: in.AgentID}), nil
		}),
		"org.update": rpc(func(_ context.Context, in orgUpdateParams) (any, error) {
			return p.Orgs.UpdateOrganization(in.ID, in.UpdateOrganizationInput)
		}),
		"org.delete": rpc(func(_ context.Context, in idParams) (any, error) {
			return okResult{OK: true}, p.Orgs.DeleteOrganization(in.ID)
		}),
		"org.addAgent": rpc(func(_ context.Context, in memberParams) (any, error) {
			return p.Orgs.AddAgent(in.ID, in.AgentID)
		}),
		"org.removeAgent": rpc(func(_ context.Context, in memberParams) (any, error) {
			return p.Orgs.RemoveAgent(in.ID, in.AgentID)
		}),
		"org.tree": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Orgs.Tree(in.ID)
		}),
		"org.ancestors": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Orgs.Ancestors(in.ID)
		}),
		"org.descendants": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Orgs.Descendants(in.ID)
		}),
		"org.path": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Orgs.Path(in.ID)
		}),
		"org.stats": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Orgs.Stats(in.ID)
		}),
		"org.agentOrganizations": rpc(func(_ context.Context, in agentParams) (any, error) {
			return p.Orgs.AgentOrganizations(in.AgentID), nil
		}),

		// teams
		"team.create": rpc(func(_ context.Context, in org.CreateTeamInput) (any, error) {
			return p.Orgs.CreateTeam(in)
		}),
		"team.get": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Orgs.GetTeam(in.ID)
		}),
		"team.list": rpc(func(_ context.Context, in org.TeamFilter) (any, error) {
			return p.Orgs.ListTeams(in), nil
		}),
		"team.update": rpc(func(_ context.Context, in teamUpdateParams) (any, error) {
			return p.Orgs.UpdateTeam(in.ID, in.UpdateTeamInput)
		}),
		"team.delete": rpc(func(_ context.Context, in idParams) (any, error) {
			return okResult{OK: true}, p.Orgs.DeleteTeam(in.ID)
		}),
		"team.addMember": rpc(func(_ context.Context, in memberParams) (any, error) {
			return p.Orgs.AddTeamMember(in.ID, in.AgentID)
		}),
		"team.removeMember": rpc(func(_ context.Context, in memberParams) (any, error) {
			return p.Orgs.RemoveTeamMember(in.ID, in.AgentID)
		}),
		"team.setLeader": rpc(func(_ context.Context, in memberParams) (any, error) {
			return p.Orgs.SetTeamLeader(in.ID, in.AgentID)
		}),

		// collaboration
		"collab.create": rpc(func(_ context.Context, in org.CreateCollaborationInput) (any, error) {
			return p.Orgs.CreateCollaboration(in)
		}),
		"collab.delete": rpc(func(_ context.Context, in idParams) (any, error) {
			return okResult{OK: true}, p.Orgs.DeleteCollaboration(in.ID)
		}),
		"collab.list": rpc(func(_ context.Context, in org.CollaborationFilter) (any, error) {
			return p.Orgs.ListCollaborations(in), nil
		}),
		"collab.collaborators": rpc(func(_ context.Context, in agentParams) (any, error) {
			return p.Orgs.Collaborators(in.AgentID), nil
		}),
		"collab.path": rpc(func(_ context.Context, in pathParams) (any, error) {
			return p.Orgs.FindCollaborationPath(in.From, in.To, in.MaxDepth)
		}),

		// mentorship
		"mentor.create": rpc(func(_ context.Context, in org.CreateMentorshipInput) (any, error) {
			return p.Orgs.CreateMentorship(in)
		}),
		"mentor.get": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Orgs.GetMentorship(in.ID)
		}),
		"mentor.list": rpc(func(_ context.Context, in org.MentorshipFilter) (any, error) {
			return p.Orgs.FindMentorships(in), nil
		}),
		"mentor.progress": rpc(func(_ context.Context, in progressParams) (any, error) {
			return p.Orgs.UpdateMentorshipProgress(in.ID, in.Progress, in.Notes)
		}),
		"mentor.status": rpc(func(_ context.Context, in statusParams) (any, error) {
			return p.Orgs.SetMentorshipStatus(in.ID, in.Status)
		}),

		// approvals
		"approval.create": rpc(func(ctx context.Context, in approvalCreateParams) (any, error) {
			requester, err := actingID(ctx, in.RequesterID)
			if err != nil {
				return nil, err
			}
			return p.Approvals.Create(ctx, approval.CreateInput{
				Type:              in.Type,
				Title:             in.Title,
				Description:       in.Description,
				RequesterID:       requester,
				Payload:           in.Payload,
				Approvers:         in.Approvers,
				RequiredApprovals: in.RequiredApprovals,
				TTL:               time.Duration(in.TTLSeconds) * time.Second,
			})
		}),
		"approval.get": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Approvals.Get(in.ID)
		}),
		"approval.list": rpc(func(_ context.Context, in approval.Filter) (any, error) {
			return p.Approvals.List(in), nil
		}),
		"approval.pending": rpc(func(_ context.Context, in approverParams) (any, error) {
			return p.Approvals.PendingFor(in.ApproverID), nil
		}),
		"approval.approve": rpc(func(ctx context.Context, in decideParams) (any, error) {
			approver, err := actingID(ctx, in.ApproverID)
			if err != nil {
				return nil, err
			}
			return p.Approvals.Approve(ctx, in.ID, approver, in.Comment)
		}),
		"approval.reject": rpc(func(ctx context.Context, in decideParams) (any, error) {
			approver, err := actingID(ctx, in.ApproverID)
			if err != nil {
				return nil, err
			}
			return p.Approvals.Reject(ctx, in.ID, approver, in.Comment)
		}),
		"approval.cancel": rpc(func(ctx context.Context, in cancelParams) (any, error) {
			requester, err := actingID(ctx, in.RequesterID)
			if err != nil {
				return nil, err
			}
			return p.Approvals.Cancel(ctx, in.ID, requester)
		}),

		// bindings and routing
		"binding.create": rpc(func(_ context.Context, in channels.BindingInput) (any, error) {
			return p.Channels.CreateBinding(in)
		}),
		"binding.request": rpc(func(ctx context.Context, in bindingRequestParams) (any, error) {
			requester, err := actingID(ctx, in.RequesterID)
			if err != nil {
				return nil, err
			}
			return p.RequestBinding(ctx, requester, in.Approvers, in.Binding)
		}),
		"binding.get": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Channels.GetBinding(in.ID)
		}),
		"binding.list": rpc(func(_ context.Context, in channels.BindingFilter) (any, error) {
			return p.Channels.ListBindings(in), nil
		}),
		"binding.update": rpc(func(_ context.Context, in bindingUpdateParams) (any, error) {
			return p.Channels.UpdateBinding(in.ID, in.BindingUpdate)
		}),
		"binding.delete": rpc(func(_ context.Context, in idParams) (any, error) {
			return okResult{OK: true}, p.Channels.DeleteBinding(in.ID)
		}),
		"message.route": rpc(func(ctx context.Context, in channels.Message) (any, error) {
			return p.Channels.Route(ctx, in)
		}),
		"message.send": rpc(func(ctx context.Context, in sendParams) (any, error) {
			sent, err := p.SendAsAgent(ctx, in.AgentID, in.Text)
			return map[string]int{"sent": sent}, err
		}),
		"moderation.list": rpc(func(_ context.Context, in bindingScopeParams) (any, error) {
			return p.Channels.Moderation().ListPending(in.BindingID), nil
		}),
		"moderation.approve": rpc(func(ctx context.Context, in moderationParams) (any, error) {
			moderator, err := actingID(ctx, in.ModeratorID)
			if err != nil {
				return nil, err
			}
			return p.Channels.Moderation().Approve(in.BindingID, in.MessageID, moderator)
		}),
		"moderation.reject": rpc(func(ctx context.Context, in moderationParams) (any, error) {
			moderator, err := actingID(ctx, in.ModeratorID)
			if err != nil {
				return nil, err
			}
			return p.Channels.Moderation().Reject(in.BindingID, in.MessageID, moderator)
		}),
		"inbox.list": rpc(func(_ context.Context, in inboxParams) (any, error) {
			return p.Channels.Inbox().List(in.AgentID, in.Limit), nil
		}),

		// workspaces
		"workspace.ensureAgent": rpc(func(_ context.Context, in agentParams) (any, error) {
			dir, created, err := p.Workspace.EnsureAgent(in.AgentID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"dir": dir, "created": created}, nil
		}),
		"workspace.context": rpc(func(_ context.Context, in agentParams) (any, error) {
			rendered, files, err := p.AgentContext(in.AgentID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"context": rendered, "files": files}, nil
		}),
		"workspace.group.create": rpc(func(_ context.Context, in workspace.GroupInfo) (any, error) {
			return p.Workspace.CreateGroupWorkspace(in)
		}),
		"workspace.group.get": rpc(func(_ context.Context, in idParams) (any, error) {
			return p.Workspace.LoadGroupWorkspace(in.ID)
		}),
		"workspace.group.list": rpc(func(context.Context, struct{}) (any, error) {
			return p.Workspace.ListGroupWorkspaces()
		}),
		"workspace.group.delete": rpc(func(_ context.Context, in idParams) (any, error) {
			return okResult{OK: true}, p.Workspace.DeleteGroupWorkspace(in.ID)
		}),
		"workspace.group.addMember": rpc(func(_ context.Context, in groupMemberParams) (any, error) {
			return p.Workspace.AddGroupMember(in.GroupID, in.GroupMember)
		}),
		"workspace.group.removeMember": rpc(func(_ context.Context, in groupMemberRemoveParams) (any, error) {
			return p.Workspace.RemoveGroupMember(in.GroupID, in.MemberID)
		}),
		"workspace.group.writeDoc": rpc(func(_ context.Context, in groupDocParams) (any, error) {
			rel, err := p.Workspace.WriteGroupDoc(in.GroupID, in.Name, in.Content)
			if err != nil {
				return nil, err
			}
			return map[string]string{"path": rel}, nil
		}),
		"workspace.access.set": rpc(func(_ context.Context, in workspace.AccessPolicy) (any, error) {
			return p.Access.SetPolicy(in)
		}),
		"workspace.access.get": rpc(func(_ context.Context, in agentParams) (any, error) {
			policy, explicit := p.Access.Policy(in.AgentID)
			return map[string]any{"policy": policy, "explicit": explicit}, nil
		}),
		"workspace.access.remove": rpc(func(_ context.Context, in agentParams) (any, error) {
			return okResult{OK: true}, p.Access.RemovePolicy(in.AgentID)
		}),
		"workspace.access.check": rpc(func(_ context.Context, in accessCheckParams) (any, error) {
			op, err := workspace.ParseOperation(string(in.Operation))
			if err != nil {
				return nil, err
			}
			return p.Access.CheckAccess(in.AgentID, in.Path, op), nil
		}),
		"workspace.sediment": rpc(func(_ context.Context, in sedimentParams) (any, error) {
			history := in.History
			if len(history) == 0 {
				history = p.ChatHistory(in.GroupID)
			}
			return p.Workspace.Sediment(in.GroupID, history, time.Now().UTC())
		}),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, fn := range methods {
		p.rpc[name] = fn
	}
}
