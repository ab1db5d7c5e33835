// Package alerts implements the rule evaluation engine and webhook delivery
// for bazaar cache alerting. Rules are evaluated against the refresher status
// after every cycle; webhooks are delivered to Teams, Slack, or generic HTTP
// targets.
package alerts
