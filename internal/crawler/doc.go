// Package crawler implements the concurrent crawl and file-discovery engine:
// level-ordered frontier scheduling, per-link file-vs-page classification,
// download-endpoint probing, sitemap-assisted seeding, and the deduplicated
// discovery result set.
package crawler
