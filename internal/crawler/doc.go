// Package crawler holds the types shared by the crawl pipeline: work items,
// fetch options and payloads, the failure taxonomy, and the narrow
// collaborator interfaces (fetchers, inserters, file stores, run stores).
package crawler
