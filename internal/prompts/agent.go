package prompts

// EmptyResponseFallback is the narrative used when a specialist ends
// (by finishing or by reaching its iteration ceiling) without producing
// any text.
const EmptyResponseFallback = "I gathered the requested data but wasn't able to compose a summary. The results are shown on the canvas."

// FollowUpNarrativeMissing seeds a card re-render when the session has
// no earlier assistant narrative.
const FollowUpNarrativeMissing = "No earlier analysis is available in this session."
