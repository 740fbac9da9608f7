package store

// Reconcile merges a server-confirmed message into an existing message list
// and returns the new list. The input list is not mutated.
//
// Merge order:
//  1. A pending message from the same sender with identical text is replaced
//     in place, resolving the optimistic-send race at its original position.
//  2. A message with the same final id already present means the event is a
//     duplicate delivery; the list is returned unchanged.
//  3. Otherwise the message is appended.
//  4. The result is deduplicated by final id.
//
// Re-delivering the same server event is therefore idempotent, and each
// logical message keeps exactly one visible copy regardless of how the
// optimistic insert and the server echo interleave.
func Reconcile(list []Message, incoming Message) []Message {
	for i, m := range list {
		if m.Pending() && m.Sender == incoming.Sender && m.Text == incoming.Text {
			out := make([]Message, len(list))
			copy(out, list)
			out[i] = incoming
			return dedupeByID(out)
		}
	}

	for _, m := range list {
		if m.ID == incoming.ID {
			return list
		}
	}

	out := make([]Message, 0, len(list)+1)
	out = append(out, list...)
	out = append(out, incoming)
	return dedupeByID(out)
}

// dedupeByID keeps the first occurrence of every id, preserving order.
func dedupeByID(list []Message) []Message {
	seen := make(map[string]struct{}, len(list))
	out := list[:0:0]
	for _, m := range list {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
