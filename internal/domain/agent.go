package domain

// AgentID selects which backend legal persona handles a conversation.
type AgentID string

const (
	// AgentLegalAdvisor answers general legal questions.
	AgentLegalAdvisor AgentID = "legal_advisor"
	// AgentDocumentDrafter drafts notices, agreements and affidavits.
	AgentDocumentDrafter AgentID = "document_drafter"
	// AgentCaseResearcher looks up statutes and case law.
	AgentCaseResearcher AgentID = "case_researcher"
	// AgentConsumerRights handles consumer-forum complaints.
	AgentConsumerRights AgentID = "consumer_rights"
)

// DefaultAgent is used when a caller does not pick one.
const DefaultAgent = AgentLegalAdvisor

// Agents lists every agent the backend exposes.
func Agents() []AgentID {
	return []AgentID{
		AgentLegalAdvisor,
		AgentDocumentDrafter,
		AgentCaseResearcher,
		AgentConsumerRights,
	}
}

// IsKnown reports whether id is one of the published agents.
func (id AgentID) IsKnown() bool {
	for _, a := range Agents() {
		if a == id {
			return true
		}
	}
	return false
}
