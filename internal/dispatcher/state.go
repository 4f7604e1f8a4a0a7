package dispatcher

import "github.com/miekg/dns"

// Section is the reply section a record is being added to, carried
// explicitly through the recursion state rather than threaded as a
// callback.
type Section int

const (
	SectionAnswer Section = iota
	SectionAuthority
	SectionAdditional
)

// chainKey identifies a (name, type) pair already visited during this
// request, used as the recursion guard.
type chainKey struct {
	name  string
	qtype uint16
}

// RequestState carries everything a single query's dispatch needs. It
// is created per query, lives only for the duration of reply
// assembly, and is never shared across requests.
type RequestState struct {
	Client string
	QName  string
	QType  uint16

	Reply *dns.Msg

	chain map[chainKey]bool
	added map[string]struct{}
}

// NewRequestState builds a fresh, empty RequestState for one query.
func NewRequestState(client, qname string, qtype uint16, reply *dns.Msg) *RequestState {
	return &RequestState{
		Client: client,
		QName:  qname,
		QType:  qtype,
		Reply:  reply,
		chain:  make(map[chainKey]bool),
		added:  make(map[string]struct{}),
	}
}

// visit records (name, qtype) as visited, returning false if it was
// already in the chain (a recursion cycle).
func (s *RequestState) visit(name string, qtype uint16) bool {
	key := chainKey{name: name, qtype: qtype}
	if s.chain[key] {
		return false
	}
	s.chain[key] = true
	return true
}

// addRecord appends rr to the given section unless its rdata was
// already inserted by an earlier path in this request.
func (s *RequestState) addRecord(section Section, rr dns.RR) bool {
	key := rdataKey(rr)
	if _, dup := s.added[key]; dup {
		return false
	}
	s.added[key] = struct{}{}

	switch section {
	case SectionAnswer:
		s.Reply.Answer = append(s.Reply.Answer, rr)
	case SectionAuthority:
		s.Reply.Ns = append(s.Reply.Ns, rr)
	case SectionAdditional:
		s.Reply.Extra = append(s.Reply.Extra, rr)
	}
	return true
}
