package schema

// Control schemas per step type (JSON Schema draft 2020-12). Template
// expressions are always accepted wherever a string is, so string controls
// carry no format constraints beyond the redirect URL pattern.

const urlPattern = `^(?:\\{\\{[^}]*\\}\\}.*|https?://[^\\s/$.?#][^\\s]*|/[^\\s]*)$`

const skipProperty = `"skip": { "type": "object", "additionalProperties": true }`

const emailControlSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["subject", "body"],
  "properties": {
    "subject": { "type": "string", "minLength": 1 },
    "body": { "type": "string" },
    "editorType": { "type": "string", "enum": ["block", "html"] },
    "layoutId": { "type": ["string", "null"] },
    "disableOutputSanitization": { "type": "boolean" },
    ` + skipProperty + `
  },
  "additionalProperties": false
}`

const smsControlSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["body"],
  "properties": {
    "body": { "type": "string", "minLength": 1 },
    ` + skipProperty + `
  },
  "additionalProperties": false
}`

const pushControlSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["subject", "body"],
  "properties": {
    "subject": { "type": "string", "minLength": 1 },
    "body": { "type": "string", "minLength": 1 },
    ` + skipProperty + `
  },
  "additionalProperties": false
}`

const chatControlSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["body"],
  "properties": {
    "body": { "type": "string", "minLength": 1 },
    ` + skipProperty + `
  },
  "additionalProperties": false
}`

const inAppCommonProperties = `
    "avatar": { "type": "string", "pattern": "` + urlPattern + `" },
    "primaryAction": { "$ref": "#/$defs/action" },
    "secondaryAction": { "$ref": "#/$defs/action" },
    "redirect": { "$ref": "#/$defs/redirect" },
    "data": { "type": "object", "additionalProperties": true },
    "disableOutputSanitization": { "type": "boolean" },
    ` + skipProperty

// The in-app step needs a subject or a body; either alone is enough.
const inAppControlSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "subject": { "type": "string" },
    "body": { "type": "string" },` + inAppCommonProperties + `
  },
  "additionalProperties": false,
  "anyOf": [
    { "required": ["subject"], "properties": { "subject": { "minLength": 1 } } },
    { "required": ["body"], "properties": { "body": { "minLength": 1 } } }
  ],
  "$defs": {
    "redirect": {
      "type": "object",
      "required": ["url", "target"],
      "properties": {
        "url": { "type": "string", "pattern": "` + urlPattern + `" },
        "target": { "type": "string", "enum": ["_self", "_blank", "_parent", "_top", "_unfencedTop"] }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["label"],
      "properties": {
        "label": { "type": "string", "minLength": 1 },
        "redirect": { "$ref": "#/$defs/redirect" }
      },
      "additionalProperties": false
    }
  }
}`

const timeUnits = `["seconds", "minutes", "hours", "days", "weeks", "months"]`

const delayControlSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["amount", "unit"],
  "properties": {
    "type": { "type": "string", "enum": ["regular"] },
    "amount": { "type": "number", "exclusiveMinimum": 0 },
    "unit": { "type": "string", "enum": ` + timeUnits + ` },
    ` + skipProperty + `
  },
  "additionalProperties": false
}`

const digestControlSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "type": { "type": "string", "enum": ["regular", "timed"] },
    "amount": { "type": "number", "exclusiveMinimum": 0 },
    "unit": { "type": "string", "enum": ` + timeUnits + ` },
    "digestKey": { "type": "string" },
    "lookBackWindow": {
      "type": "object",
      "required": ["amount", "unit"],
      "properties": {
        "amount": { "type": "number", "exclusiveMinimum": 0 },
        "unit": { "type": "string", "enum": ` + timeUnits + ` }
      },
      "additionalProperties": false
    },
    "cron": { "type": "string", "minLength": 1 },
    ` + skipProperty + `
  },
  "if": { "required": ["type"], "properties": { "type": { "const": "timed" } } },
  "then": { "required": ["cron"] },
  "else": { "required": ["amount", "unit"] },
  "additionalProperties": false
}`

const customControlSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    ` + skipProperty + `
  },
  "additionalProperties": true
}`

const httpRequestControlSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["url", "method"],
  "properties": {
    "url": { "type": "string", "pattern": "` + urlPattern + `" },
    "method": { "type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"] },
    "headers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["key", "value"],
        "properties": {
          "key": { "type": "string", "minLength": 1 },
          "value": { "type": "string" }
        },
        "additionalProperties": false
      }
    },
    "body": {},
    "continueOnFailure": { "type": "boolean" },
    ` + skipProperty + `
  },
  "additionalProperties": false
}`
