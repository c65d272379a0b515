// Package crawler holds the types shared by every stage of a site crawl: the
// fetch contract, the failure taxonomy, the retry policy, and the collaborator
// interfaces (stores, archives, publishers, notifiers) the orchestrator wires
// together.
package crawler
