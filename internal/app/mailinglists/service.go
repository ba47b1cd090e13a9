// Package mailinglists implements mailing lists and their subscription
// states. Who may subscribe follows from the list type and the persona's
// realms, registrations and assembly attendance.
package mailinglists

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
	clockport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/clock"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/mlrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

// DefaultDomain is used when a list is created without a domain.
const DefaultDomain = "lists.cde-ev.de"

var localPartPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

type Service struct {
	repo       mlrepo.Repository
	personas   personarepo.Repository
	events     eventrepo.Repository
	assemblies assemblyrepo.Repository
	clk        clockport.Clock

	newID func() string
}

func NewService(repo mlrepo.Repository, personas personarepo.Repository, events eventrepo.Repository, assemblies assemblyrepo.Repository, clk clockport.Clock) *Service {
	return &Service{
		repo:       repo,
		personas:   personas,
		events:     events,
		assemblies: assemblies,
		clk:        clk,
		newID:      uuid.NewString,
	}
}

type CreateInput struct {
	Title      string
	LocalPart  string
	Domain     string
	Type       domain.MailinglistType
	Moderators []domain.PersonaID

	EventID           *domain.EventID
	RegistrationStati []domain.RegistrationPartStatus
	AssemblyID        *domain.AssemblyID
}

type UpdateInput struct {
	Title             *string
	Moderators        *[]domain.PersonaID
	IsActive          *bool
	RegistrationStati *[]domain.RegistrationPartStatus
}

// Status is a persona's view of a list.
type Status struct {
	Mailinglist domain.Mailinglist
	Policy      domain.SubscriptionPolicy
	// State is empty when there is no subscription record.
	State domain.SubscriptionState
}

func listNotFound() *apperr.Error {
	return apperr.NotFound("MAILINGLIST_NOT_FOUND", "Mailing list not found.")
}

func isListAdmin(p domain.Persona) bool {
	return p.IsAdmin(domain.AdminML) || p.IsAdmin(domain.AdminCore)
}

func mayModerate(p domain.Persona, ml domain.Mailinglist) bool {
	return ml.IsModerator(p.ID) || isListAdmin(p)
}

// CreateMailinglist is reserved to mailing list admins.
func (s *Service) CreateMailinglist(ctx context.Context, actor domain.Persona, in CreateInput) (domain.Mailinglist, error) {
	if !isListAdmin(actor) {
		return domain.Mailinglist{}, apperr.Forbidden("Only mailing list admins may create lists.")
	}
	title := domain.NormalizeHumanName(in.Title)
	if title == "" {
		return domain.Mailinglist{}, apperr.Validation("title", "must be non-empty")
	}
	local := strings.ToLower(strings.TrimSpace(in.LocalPart))
	if !localPartPattern.MatchString(local) {
		return domain.Mailinglist{}, apperr.Validation("localPart", "must match [a-z0-9][a-z0-9._-]*")
	}
	dom := strings.ToLower(strings.TrimSpace(in.Domain))
	if dom == "" {
		dom = DefaultDomain
	}
	if _, ok := domain.ParseMailinglistType(string(in.Type)); !ok {
		return domain.Mailinglist{}, apperr.Validation("type", "unknown mailing list type")
	}
	mods, err := s.checkModerators(ctx, in.Moderators)
	if err != nil {
		return domain.Mailinglist{}, err
	}

	ml := domain.Mailinglist{
		ID:         domain.MailinglistID(s.newID()),
		Title:      title,
		LocalPart:  local,
		Domain:     dom,
		Type:       in.Type,
		IsActive:   true,
		Moderators: mods,
	}
	if err := s.bindAssociation(ctx, &ml, in); err != nil {
		return domain.Mailinglist{}, err
	}
	now := s.clk.Now()
	ml.CreatedAt = now
	ml.UpdatedAt = now
	if err := s.repo.Create(ctx, ml); err != nil {
		if errors.Is(err, mlrepo.ErrAddressTaken) {
			return domain.Mailinglist{}, apperr.Conflict("ADDRESS_TAKEN", "The list address is already in use.")
		}
		return domain.Mailinglist{}, err
	}
	return ml, nil
}

// bindAssociation checks the event or assembly a list type requires.
func (s *Service) bindAssociation(ctx context.Context, ml *domain.Mailinglist, in CreateInput) error {
	switch {
	case ml.Type.IsEventType():
		if in.EventID == nil {
			return apperr.Validation("eventId", "required for event lists")
		}
		if _, err := s.events.GetEvent(ctx, *in.EventID); err != nil {
			if errors.Is(err, eventrepo.ErrNotFound) {
				return apperr.Validation("eventId", "unknown event")
			}
			return err
		}
		id := *in.EventID
		ml.EventID = &id
		if ml.Type == domain.MLEventAssociated {
			stati := in.RegistrationStati
			if len(stati) == 0 {
				stati = []domain.RegistrationPartStatus{domain.RegParticipant, domain.RegGuest}
			}
			checked, err := checkStati(stati)
			if err != nil {
				return err
			}
			ml.RegistrationStati = checked
		}
	case ml.Type.IsAssemblyType():
		if in.AssemblyID == nil {
			return apperr.Validation("assemblyId", "required for assembly lists")
		}
		if _, err := s.assemblies.GetAssembly(ctx, *in.AssemblyID); err != nil {
			if errors.Is(err, assemblyrepo.ErrNotFound) {
				return apperr.Validation("assemblyId", "unknown assembly")
			}
			return err
		}
		id := *in.AssemblyID
		ml.AssemblyID = &id
	default:
		if in.EventID != nil || in.AssemblyID != nil {
			return apperr.Validation("type", "list type takes no event or assembly")
		}
	}
	return nil
}

func checkStati(stati []domain.RegistrationPartStatus) ([]domain.RegistrationPartStatus, error) {
	out := make([]domain.RegistrationPartStatus, 0, len(stati))
	seen := map[domain.RegistrationPartStatus]bool{}
	for _, st := range stati {
		if _, ok := domain.ParseRegistrationPartStatus(string(st)); !ok {
			return nil, apperr.Validation("registrationStati", "unknown status "+string(st))
		}
		if !seen[st] {
			seen[st] = true
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Service) checkModerators(ctx context.Context, ids []domain.PersonaID) ([]domain.PersonaID, error) {
	out := make([]domain.PersonaID, 0, len(ids))
	seen := map[domain.PersonaID]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.personas.GetByID(ctx, id); err != nil {
			if errors.Is(err, personarepo.ErrNotFound) {
				return nil, apperr.Validation("moderators", "unknown persona "+string(id))
			}
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *Service) GetMailinglist(ctx context.Context, id domain.MailinglistID) (domain.Mailinglist, error) {
	ml, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, mlrepo.ErrNotFound) {
			return domain.Mailinglist{}, listNotFound()
		}
		return domain.Mailinglist{}, err
	}
	return ml, nil
}

func (s *Service) ListMailinglists(ctx context.Context) ([]domain.Mailinglist, error) {
	return s.repo.List(ctx)
}

func (s *Service) UpdateMailinglist(ctx context.Context, actor domain.Persona, id domain.MailinglistID, in UpdateInput) (domain.Mailinglist, error) {
	ml, err := s.GetMailinglist(ctx, id)
	if err != nil {
		return domain.Mailinglist{}, err
	}
	if !isListAdmin(actor) {
		return domain.Mailinglist{}, apperr.Forbidden("Only mailing list admins may change lists.")
	}
	if in.Title != nil {
		title := domain.NormalizeHumanName(*in.Title)
		if title == "" {
			return domain.Mailinglist{}, apperr.Validation("title", "must be non-empty")
		}
		ml.Title = title
	}
	if in.Moderators != nil {
		mods, err := s.checkModerators(ctx, *in.Moderators)
		if err != nil {
			return domain.Mailinglist{}, err
		}
		ml.Moderators = mods
	}
	if in.IsActive != nil {
		ml.IsActive = *in.IsActive
	}
	if in.RegistrationStati != nil {
		if ml.Type != domain.MLEventAssociated {
			return domain.Mailinglist{}, apperr.Validation("registrationStati", "only event associated lists have registration stati")
		}
		stati, err := checkStati(*in.RegistrationStati)
		if err != nil {
			return domain.Mailinglist{}, err
		}
		ml.RegistrationStati = stati
	}
	ml.UpdatedAt = s.clk.Now()
	if err := s.repo.Save(ctx, ml); err != nil {
		if errors.Is(err, mlrepo.ErrNotFound) {
			return domain.Mailinglist{}, listNotFound()
		}
		return domain.Mailinglist{}, err
	}
	return ml, nil
}

// Policy returns what persona p may do with respect to ml.
func (s *Service) Policy(ctx context.Context, ml domain.Mailinglist, p domain.Persona) (domain.SubscriptionPolicy, error) {
	if !p.IsActive || p.IsArchived {
		return domain.PolicyNone, nil
	}
	associated, err := s.isAssociated(ctx, ml, p.ID)
	if err != nil {
		return "", err
	}
	return domain.RealmPolicy(ml.Type, p, associated), nil
}

func (s *Service) isAssociated(ctx context.Context, ml domain.Mailinglist, personaID domain.PersonaID) (bool, error) {
	switch ml.Type {
	case domain.MLEventAssociated:
		if ml.EventID == nil {
			return false, nil
		}
		reg, err := s.events.GetRegistrationByPersona(ctx, *ml.EventID, personaID)
		if errors.Is(err, eventrepo.ErrRegistrationNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return matchesStati(reg, ml.RegistrationStati), nil
	case domain.MLEventOrga:
		if ml.EventID == nil {
			return false, nil
		}
		ev, err := s.events.GetEvent(ctx, *ml.EventID)
		if errors.Is(err, eventrepo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return ev.IsOrga(personaID), nil
	case domain.MLAssemblyAssociated:
		if ml.AssemblyID == nil {
			return false, nil
		}
		_, err := s.assemblies.GetAttendee(ctx, *ml.AssemblyID, personaID)
		if errors.Is(err, assemblyrepo.ErrAttendeeNotFound) {
			return false, nil
		}
		return err == nil, err
	}
	return false, nil
}

func matchesStati(reg domain.Registration, stati []domain.RegistrationPartStatus) bool {
	for _, part := range reg.Parts {
		for _, st := range stati {
			if part.Status == st {
				return true
			}
		}
	}
	return false
}

func (s *Service) state(ctx context.Context, mlID domain.MailinglistID, personaID domain.PersonaID) (domain.SubscriptionState, error) {
	sub, err := s.repo.GetSubscription(ctx, mlID, personaID)
	if errors.Is(err, mlrepo.ErrSubscriptionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sub.State, nil
}

func (s *Service) setState(ctx context.Context, mlID domain.MailinglistID, personaID domain.PersonaID, st domain.SubscriptionState) error {
	return s.repo.SetSubscription(ctx, domain.Subscription{
		MailinglistID: mlID,
		PersonaID:     personaID,
		State:         st,
		UpdatedAt:     s.clk.Now(),
	})
}

func (s *Service) deleteState(ctx context.Context, mlID domain.MailinglistID, personaID domain.PersonaID) error {
	err := s.repo.DeleteSubscription(ctx, mlID, personaID)
	if errors.Is(err, mlrepo.ErrSubscriptionNotFound) {
		return nil
	}
	return err
}

// MyStatus returns the actor's policy and subscription state for a list.
func (s *Service) MyStatus(ctx context.Context, actor domain.Persona, id domain.MailinglistID) (Status, error) {
	ml, err := s.GetMailinglist(ctx, id)
	if err != nil {
		return Status{}, err
	}
	policy, err := s.Policy(ctx, ml, actor)
	if err != nil {
		return Status{}, err
	}
	st, err := s.state(ctx, id, actor.ID)
	if err != nil {
		return Status{}, err
	}
	return Status{Mailinglist: ml, Policy: policy, State: st}, nil
}

// Subscribe subscribes the actor (opt-in lists) or files a request
// (moderated lists). Subscribing while subscribed is a no-op.
func (s *Service) Subscribe(ctx context.Context, actor domain.Persona, id domain.MailinglistID) (domain.SubscriptionState, error) {
	ml, err := s.GetMailinglist(ctx, id)
	if err != nil {
		return "", err
	}
	if !ml.IsActive {
		return "", apperr.Conflict("MAILINGLIST_INACTIVE", "The mailing list is inactive.")
	}
	current, err := s.state(ctx, id, actor.ID)
	if err != nil {
		return "", err
	}
	switch {
	case current.IsSubscribed(), current == domain.SubPending:
		return current, nil
	case current == domain.SubUnsubscriptionOverride:
		return "", apperr.Forbidden("A moderator has removed you from this list.")
	}
	policy, err := s.Policy(ctx, ml, actor)
	if err != nil {
		return "", err
	}
	var next domain.SubscriptionState
	switch policy {
	case domain.PolicyOptIn, domain.PolicyOptOut, domain.PolicyMandatory:
		next = domain.SubSubscribed
	case domain.PolicyModeratedOptIn:
		next = domain.SubPending
	default:
		return "", apperr.Forbidden("You may not subscribe to this list.")
	}
	if err := s.setState(ctx, id, actor.ID, next); err != nil {
		return "", err
	}
	return next, nil
}

// Unsubscribe removes the actor from a list or withdraws a pending request.
func (s *Service) Unsubscribe(ctx context.Context, actor domain.Persona, id domain.MailinglistID) error {
	ml, err := s.GetMailinglist(ctx, id)
	if err != nil {
		return err
	}
	policy, err := s.Policy(ctx, ml, actor)
	if err != nil {
		return err
	}
	if !policy.MayUnsubscribe() {
		return apperr.Forbidden("This list is mandatory.")
	}
	current, err := s.state(ctx, id, actor.ID)
	if err != nil {
		return err
	}
	switch current {
	case "", domain.SubUnsubscribed, domain.SubUnsubscriptionOverride:
		return nil
	case domain.SubPending:
		return s.deleteState(ctx, id, actor.ID)
	}
	// An explicit unsubscription keeps implicit syncs from resubscribing.
	return s.setState(ctx, id, actor.ID, domain.SubUnsubscribed)
}

func (s *Service) moderatedList(ctx context.Context, actor domain.Persona, id domain.MailinglistID) (domain.Mailinglist, error) {
	ml, err := s.GetMailinglist(ctx, id)
	if err != nil {
		return domain.Mailinglist{}, err
	}
	if !mayModerate(actor, ml) {
		return domain.Mailinglist{}, apperr.Forbidden("Only moderators may do this.")
	}
	return ml, nil
}

// DecideRequest accepts or rejects a pending subscription request.
func (s *Service) DecideRequest(ctx context.Context, actor domain.Persona, id domain.MailinglistID, personaID domain.PersonaID, accept bool) error {
	if _, err := s.moderatedList(ctx, actor, id); err != nil {
		return err
	}
	current, err := s.state(ctx, id, personaID)
	if err != nil {
		return err
	}
	if current != domain.SubPending {
		return apperr.Conflict("NO_PENDING_REQUEST", "There is no pending request for this persona.")
	}
	if accept {
		return s.setState(ctx, id, personaID, domain.SubSubscribed)
	}
	return s.deleteState(ctx, id, personaID)
}

// AddSubscriber subscribes a persona. Where the policy would not allow
// it, the subscription is recorded as an override.
func (s *Service) AddSubscriber(ctx context.Context, actor domain.Persona, id domain.MailinglistID, personaID domain.PersonaID) (domain.SubscriptionState, error) {
	ml, err := s.moderatedList(ctx, actor, id)
	if err != nil {
		return "", err
	}
	p, err := s.loadPersona(ctx, personaID)
	if err != nil {
		return "", err
	}
	policy, err := s.Policy(ctx, ml, p)
	if err != nil {
		return "", err
	}
	next := domain.SubSubscribed
	if policy == domain.PolicyNone || policy == domain.PolicyImplicitsOnly {
		next = domain.SubSubscriptionOverride
	}
	if err := s.setState(ctx, id, personaID, next); err != nil {
		return "", err
	}
	return next, nil
}

// RemoveSubscriber unsubscribes a persona. Personas that would be
// subscribed implicitly are blocked with an override.
func (s *Service) RemoveSubscriber(ctx context.Context, actor domain.Persona, id domain.MailinglistID, personaID domain.PersonaID) (domain.SubscriptionState, error) {
	ml, err := s.moderatedList(ctx, actor, id)
	if err != nil {
		return "", err
	}
	p, err := s.loadPersona(ctx, personaID)
	if err != nil {
		return "", err
	}
	policy, err := s.Policy(ctx, ml, p)
	if err != nil {
		return "", err
	}
	if policy.IsImplicit() || policy == domain.PolicyImplicitsOnly {
		if err := s.setState(ctx, id, personaID, domain.SubUnsubscriptionOverride); err != nil {
			return "", err
		}
		return domain.SubUnsubscriptionOverride, nil
	}
	if err := s.setState(ctx, id, personaID, domain.SubUnsubscribed); err != nil {
		return "", err
	}
	return domain.SubUnsubscribed, nil
}

// ListSubscribers returns all subscription records of a list.
func (s *Service) ListSubscribers(ctx context.Context, actor domain.Persona, id domain.MailinglistID) ([]domain.Subscription, error) {
	if _, err := s.moderatedList(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListSubscriptions(ctx, id)
}

// SyncResult counts the changes of an implicit subscriber sync.
type SyncResult struct {
	Added   int
	Removed int
}

// SyncImplicits recomputes the implicit subscribers of a list. Explicit
// unsubscriptions and moderator overrides win over implicit membership;
// subscribers who lost the right to be on the list are removed.
func (s *Service) SyncImplicits(ctx context.Context, id domain.MailinglistID) (SyncResult, error) {
	ml, err := s.GetMailinglist(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	candidates, err := s.implicitCandidates(ctx, ml)
	if err != nil {
		return SyncResult{}, err
	}
	subs, err := s.repo.ListSubscriptions(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	existing := make(map[domain.PersonaID]domain.SubscriptionState, len(subs))
	for _, sub := range subs {
		existing[sub.PersonaID] = sub.State
	}

	var res SyncResult
	for _, pid := range sortedIDs(candidates) {
		switch existing[pid] {
		case "", domain.SubPending:
			if err := s.setState(ctx, id, pid, domain.SubImplicit); err != nil {
				return SyncResult{}, err
			}
			res.Added++
		}
	}
	for _, sub := range subs {
		if candidates[sub.PersonaID] || sub.State.IsOverride() || sub.State == domain.SubUnsubscribed {
			continue
		}
		keep := false
		if sub.State != domain.SubImplicit {
			p, err := s.personas.GetByID(ctx, sub.PersonaID)
			if err != nil && !errors.Is(err, personarepo.ErrNotFound) {
				return SyncResult{}, err
			}
			if err == nil {
				policy, err := s.Policy(ctx, ml, p.Domain())
				if err != nil {
					return SyncResult{}, err
				}
				keep = policy != domain.PolicyNone && policy != domain.PolicyImplicitsOnly
			}
		}
		if keep {
			continue
		}
		if err := s.deleteState(ctx, id, sub.PersonaID); err != nil {
			return SyncResult{}, err
		}
		res.Removed++
	}
	return res, nil
}

// implicitCandidates lists the active personas an implicit policy applies to.
func (s *Service) implicitCandidates(ctx context.Context, ml domain.Mailinglist) (map[domain.PersonaID]bool, error) {
	var ids []domain.PersonaID
	switch ml.Type {
	case domain.MLMemberMandatory, domain.MLMemberOptOut:
		members, err := s.personas.ListByRealm(ctx, domain.RealmCde)
		if err != nil {
			return nil, err
		}
		for _, p := range members {
			ids = append(ids, p.ID)
		}
	case domain.MLEventAssociated:
		if ml.EventID == nil {
			break
		}
		regs, err := s.events.ListRegistrations(ctx, *ml.EventID)
		if err != nil {
			return nil, err
		}
		for _, r := range regs {
			if matchesStati(r, ml.RegistrationStati) {
				ids = append(ids, r.PersonaID)
			}
		}
	case domain.MLEventOrga:
		if ml.EventID == nil {
			break
		}
		ev, err := s.events.GetEvent(ctx, *ml.EventID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, ev.Orgas...)
	case domain.MLAssemblyAssociated:
		if ml.AssemblyID == nil {
			break
		}
		attendees, err := s.assemblies.ListAttendees(ctx, *ml.AssemblyID)
		if err != nil {
			return nil, err
		}
		for _, a := range attendees {
			ids = append(ids, a.PersonaID)
		}
	}

	out := make(map[domain.PersonaID]bool, len(ids))
	for _, id := range ids {
		p, err := s.personas.GetByID(ctx, id)
		if errors.Is(err, personarepo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.IsActive && !p.IsArchived {
			out[id] = true
		}
	}
	return out, nil
}

// ResolveAddresses returns the sorted email addresses mail to the list is delivered to.
func (s *Service) ResolveAddresses(ctx context.Context, id domain.MailinglistID) ([]string, error) {
	ml, err := s.GetMailinglist(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ml.IsActive {
		return []string{}, nil
	}
	subs, err := s.repo.ListSubscriptions(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(subs))
	for _, sub := range subs {
		if !sub.State.IsSubscribed() {
			continue
		}
		p, err := s.personas.GetByID(ctx, sub.PersonaID)
		if errors.Is(err, personarepo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.IsActive && !p.IsArchived && p.Email != "" {
			out = append(out, p.Email)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) loadPersona(ctx context.Context, id domain.PersonaID) (domain.Persona, error) {
	p, err := s.personas.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, personarepo.ErrNotFound) {
			return domain.Persona{}, apperr.NotFound("PERSONA_NOT_FOUND", "Persona not found.")
		}
		return domain.Persona{}, err
	}
	return p.Domain(), nil
}

func sortedIDs(m map[domain.PersonaID]bool) []domain.PersonaID {
	out := make([]domain.PersonaID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
