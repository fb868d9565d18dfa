package catalog

// templateSchema is the structural JSON Schema every template definition must satisfy.
// Semantic checks (unique ids, relationship targets, versions) run after it.
const templateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "document_type", "version", "sections"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "document_type": {"type": "string", "minLength": 1},
    "title": {"type": "string"},
    "version": {"type": ["string", "number"]},
    "phase": {"type": "string", "enum": ["discovery", "definition"]},
    "validation_rules": {
      "type": "object",
      "properties": {
        "minimum_questions_answered_per_section": {"type": "number", "minimum": 0, "maximum": 1},
        "document": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "kind", "section", "minimum"],
            "properties": {
              "name": {"type": "string"},
              "kind": {"type": "string", "enum": ["dynamic_coverage", "answered_count"]},
              "section": {"type": "string"},
              "minimum": {"type": "number", "minimum": 0}
            }
          }
        }
      }
    },
    "relationships": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "target"],
        "properties": {
          "kind": {"type": "string", "enum": ["derives_from", "informs", "references"]},
          "target": {"type": "string"}
        }
      }
    },
    "sections": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/definitions/section"}
    }
  },
  "definitions": {
    "section": {
      "type": "object",
      "properties": {
        "id": {"type": "string"},
        "title": {"type": "string"},
        "required": {"type": "boolean"},
        "order": {"type": "integer"},
        "questions": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "content"],
            "properties": {
              "id": {"type": "string", "minLength": 1, "pattern": "^[^#/]+$"},
              "content": {"type": "string"},
              "kind": {"type": "string", "enum": ["template", "dynamic", "clarifying", "validation"]},
              "required": {"type": "boolean"},
              "options": {"type": "array", "items": {"type": ["string", "number", "boolean"]}},
              "for_each": {"type": "string"}
            }
          }
        },
        "subsections": {"type": "array", "items": {"$ref": "#/definitions/section"}}
      }
    }
  }
}`
