package schema

import "testing"

const testSchemaDocument = `{
  "classes": {
    "Network Activity": {
      "uid": 4001,
      "caption": "Network Activity",
      "attributes": {
        "activity_id": {"caption": "Activity ID", "type": "integer_t",
          "enum": {"1": {"caption": "Open"}, "2": {"caption": "Close"}}},
        "severity": {"caption": "Severity", "type": "integer_t",
          "enum": {"sibling": "severity_label", "1": {"caption": "Low"}, "2": {"caption": "High"}}},
        "src_endpoint": {"caption": "Source Endpoint", "type": "object_t", "object_type": "endpoint"},
        "endpoints": {"caption": "Endpoints", "type": "object_t", "object_type": "endpoint", "is_array": true},
        "notes": {"caption": "Notes", "type": "json_t"}
      }
    }
  },
  "objects": {
    "endpoint": {
      "caption": "Endpoint",
      "attributes": {
        "ip": {"caption": "IP Address", "type": "ip_t"},
        "hostname": {"caption": "Hostname", "type": "hostname_t"},
        "parent": {"caption": "Parent Endpoint", "type": "object_t", "object_type": "endpoint"}
      }
    }
  },
  "types": {
    "ip_t": {"caption": "IP Address", "observable": 2},
    "hostname_t": {"caption": "Hostname", "observable": 1},
    "integer_t": {"caption": "Integer"}
  }
}`

func mustLoadTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load([]byte(testSchemaDocument))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestLoadIndexesClassesByUID(t *testing.T) {
	c := mustLoadTestCatalog(t)
	class, ok := c.ClassByUID(4001)
	if !ok {
		t.Fatal("expected class 4001 to be indexed")
	}
	if class.Caption != "Network Activity" {
		t.Fatalf("unexpected caption: %q", class.Caption)
	}
}

func TestLoadIndexesObjectsAndTypesByName(t *testing.T) {
	c := mustLoadTestCatalog(t)
	if _, ok := c.ObjectByName("endpoint"); !ok {
		t.Fatal("expected object 'endpoint' to be indexed")
	}
	if _, ok := c.TypeByName("ip_t"); !ok {
		t.Fatal("expected type 'ip_t' to be indexed")
	}
	if _, ok := c.ClassByUID(9999); ok {
		t.Fatal("expected an unknown class uid to miss")
	}
}

func TestEnumDefUnmarshalSeparatesSiblingFromValues(t *testing.T) {
	c := mustLoadTestCatalog(t)
	class, _ := c.ClassByUID(4001)
	severity := class.Attributes["severity"]
	if severity.Enum == nil {
		t.Fatal("expected severity to carry an enum def")
	}
	if severity.Enum.Sibling != "severity_label" {
		t.Fatalf("expected explicit sibling 'severity_label', got %q", severity.Enum.Sibling)
	}
	if severity.Enum.Values["1"].Caption != "Low" {
		t.Fatalf("expected stringified-int key '1' to map to caption 'Low', got %+v", severity.Enum.Values)
	}

	activity := class.Attributes["activity_id"]
	if activity.Enum.Sibling != "" {
		t.Fatalf("expected no explicit sibling for activity_id, got %q", activity.Enum.Sibling)
	}
}
